package github

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/githubclient"
	"github.com/codeready-toolchain/tarsy/pkg/session"
)

// DetectPR implements capability.SCM, looking up an open (or most recent)
// pull request whose head branch matches.
func (p *Plugin) DetectPR(ctx context.Context, branch string) (*session.PR, error) {
	pr, err := p.client.FindPullRequestByBranch(ctx, p.owner, p.repo, branch)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, nil
	}
	return &session.PR{
		Number:     pr.Number,
		URL:        pr.HTMLURL,
		Owner:      p.owner,
		Repo:       p.repo,
		Branch:     pr.Head.Ref,
		BaseBranch: pr.Base.Ref,
		IsDraft:    pr.Draft,
		Title:      pr.Title,
	}, nil
}

// GetPRState implements capability.SCM.
func (p *Plugin) GetPRState(ctx context.Context, pr *session.PR) (config.PRState, error) {
	gh, err := p.client.GetPullRequest(ctx, p.owner, p.repo, pr.Number)
	if err != nil {
		return "", err
	}
	return prState(gh), nil
}

func prState(gh *githubclient.PullRequest) config.PRState {
	switch {
	case gh.Merged:
		return config.PRStateMerged
	case gh.State == "closed":
		return config.PRStateClosed
	default:
		return config.PRStateOpen
	}
}

// GetPRSummary implements capability.SCM.
func (p *Plugin) GetPRSummary(ctx context.Context, pr *session.PR) (string, error) {
	gh, err := p.client.GetPullRequest(ctx, p.owner, p.repo, pr.Number)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("#%d %s (%s -> %s)", gh.Number, gh.Title, gh.Head.Ref, gh.Base.Ref), nil
}

// GetCIChecks implements capability.SCM.
func (p *Plugin) GetCIChecks(ctx context.Context, pr *session.PR) ([]capability.CICheck, error) {
	gh, err := p.client.GetPullRequest(ctx, p.owner, p.repo, pr.Number)
	if err != nil {
		return nil, err
	}
	runs, err := p.client.ListCheckRuns(ctx, p.owner, p.repo, gh.Head.SHA)
	if err != nil {
		return nil, err
	}
	out := make([]capability.CICheck, len(runs))
	for i, r := range runs {
		out[i] = capability.CICheck{Name: r.Name, Pass: r.Conclusion == "success" || r.Conclusion == "neutral", URL: r.HTMLURL}
	}
	return out, nil
}

// GetCISummary implements capability.SCM, collapsing every check run on
// the PR's head commit into one signal.
func (p *Plugin) GetCISummary(ctx context.Context, pr *session.PR) (config.CISummary, error) {
	checks, err := p.GetCIChecks(ctx, pr)
	if err != nil {
		return "", err
	}
	if len(checks) == 0 {
		return config.CISummaryNone, nil
	}
	for _, c := range checks {
		if !c.Pass {
			return config.CISummaryFailing, nil
		}
	}
	return config.CISummaryPassing, nil
}

// GetReviewDecision implements capability.SCM.
func (p *Plugin) GetReviewDecision(ctx context.Context, pr *session.PR) (config.ReviewDecision, error) {
	reviews, err := p.client.ListReviews(ctx, p.owner, p.repo, pr.Number)
	if err != nil {
		return "", err
	}
	if len(reviews) == 0 {
		return config.ReviewDecisionPending, nil
	}
	// Latest review per author wins; GitHub returns reviews in
	// submission order.
	latest := make(map[string]string)
	for _, r := range reviews {
		if r.State == "COMMENTED" {
			continue
		}
		latest[r.User.Login] = r.State
	}
	sawApproval := false
	for _, state := range latest {
		if state == "CHANGES_REQUESTED" {
			return config.ReviewDecisionChangesRequested, nil
		}
		if state == "APPROVED" {
			sawApproval = true
		}
	}
	if sawApproval {
		return config.ReviewDecisionApproved, nil
	}
	return config.ReviewDecisionPending, nil
}

// GetReviews implements capability.SCM.
func (p *Plugin) GetReviews(ctx context.Context, pr *session.PR) ([]capability.Review, error) {
	reviews, err := p.client.ListReviews(ctx, p.owner, p.repo, pr.Number)
	if err != nil {
		return nil, err
	}
	out := make([]capability.Review, len(reviews))
	for i, r := range reviews {
		out[i] = capability.Review{Author: r.User.Login, State: r.State, Body: r.Body}
	}
	return out, nil
}

// GetPendingComments implements capability.SCM: review comments with no
// reply, treated as unresolved.
func (p *Plugin) GetPendingComments(ctx context.Context, pr *session.PR) ([]session.UnresolvedComment, error) {
	comments, err := p.client.ListReviewComments(ctx, p.owner, p.repo, pr.Number)
	if err != nil {
		return nil, err
	}
	var out []session.UnresolvedComment
	for _, c := range comments {
		if c.InReplyTo != nil {
			continue
		}
		out = append(out, session.UnresolvedComment{
			Path:   c.Path,
			Line:   c.Line,
			Author: c.User.Login,
			Body:   c.Body,
			URL:    c.HTMLURL,
		})
	}
	return out, nil
}

// GetAutomatedComments implements capability.SCM: comments from accounts
// that look like bots (login ending in "[bot]").
func (p *Plugin) GetAutomatedComments(ctx context.Context, pr *session.PR) ([]session.UnresolvedComment, error) {
	comments, err := p.client.ListReviewComments(ctx, p.owner, p.repo, pr.Number)
	if err != nil {
		return nil, err
	}
	var out []session.UnresolvedComment
	for _, c := range comments {
		if len(c.User.Login) > 5 && c.User.Login[len(c.User.Login)-5:] == "[bot]" {
			out = append(out, session.UnresolvedComment{Path: c.Path, Line: c.Line, Author: c.User.Login, Body: c.Body, URL: c.HTMLURL})
		}
	}
	return out, nil
}

// GetMergeability implements capability.SCM.
func (p *Plugin) GetMergeability(ctx context.Context, pr *session.PR) (session.Mergeability, error) {
	gh, err := p.client.GetPullRequest(ctx, p.owner, p.repo, pr.Number)
	if err != nil {
		var apiErr *githubclient.APIError
		if asAPIError(err, &apiErr) && apiErr.Transient() {
			return session.Mergeability{Blockers: []string{"api_rate_limited"}}, nil
		}
		return session.Mergeability{}, err
	}

	ciSummary, err := p.GetCISummary(ctx, pr)
	if err != nil {
		ciSummary = config.CISummaryNone
	}
	reviewDecision, err := p.GetReviewDecision(ctx, pr)
	if err != nil {
		reviewDecision = config.ReviewDecisionPending
	}

	noConflicts := gh.Mergeable == nil || *gh.Mergeable
	ciPassing := ciSummary == config.CISummaryPassing || ciSummary == config.CISummaryNone
	approved := reviewDecision == config.ReviewDecisionApproved

	var blockers []string
	if !noConflicts {
		blockers = append(blockers, "merge_conflicts")
	}
	if !ciPassing {
		blockers = append(blockers, "ci_failing")
	}
	if !approved {
		blockers = append(blockers, "review_not_approved")
	}

	return session.Mergeability{
		Mergeable:   noConflicts && ciPassing && approved,
		CIPassing:   ciPassing,
		Approved:    approved,
		NoConflicts: noConflicts,
		Blockers:    blockers,
	}, nil
}

func asAPIError(err error, target **githubclient.APIError) bool {
	apiErr, ok := err.(*githubclient.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}

// MergePR implements capability.SCM.
func (p *Plugin) MergePR(ctx context.Context, pr *session.PR, strategy config.MergeStrategy) error {
	return p.client.MergePullRequest(ctx, p.owner, p.repo, pr.Number, string(strategy))
}

// ClosePR implements capability.SCM.
func (p *Plugin) ClosePR(ctx context.Context, pr *session.PR) error {
	return p.client.ClosePullRequest(ctx, p.owner, p.repo, pr.Number)
}
