package githubclient

import (
	"context"
	"fmt"
)

// PullRequest is the GitHub REST shape for a pull request, trimmed to
// the scm contract's needs.
type PullRequest struct {
	Number         int    `json:"number"`
	Title          string `json:"title"`
	State          string `json:"state"` // "open" | "closed"
	Merged         bool   `json:"merged"`
	Draft          bool   `json:"draft"`
	HTMLURL        string `json:"html_url"`
	Mergeable      *bool  `json:"mergeable"`
	MergeableState string `json:"mergeable_state"`
	Head           Ref    `json:"head"`
	Base           Ref    `json:"base"`
}

// Ref is a branch endpoint of a pull request.
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// GetPullRequest fetches a single pull request.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	if err := c.do(ctx, "GET", path, nil, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// FindPullRequestByBranch returns the open pull request whose head
// branch is branch, or nil if none exists — used by the scm's DetectPR.
func (c *Client) FindPullRequestByBranch(ctx context.Context, owner, repo, branch string) (*PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls?head=%s:%s&state=all", owner, repo, owner, branch)
	var prs []*PullRequest
	if err := c.do(ctx, "GET", path, nil, &prs); err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}

// CheckRun is one CI job result from the Checks API.
type CheckRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`     // "queued" | "in_progress" | "completed"
	Conclusion string `json:"conclusion"` // "success" | "failure" | "neutral" | ...
	HTMLURL    string `json:"html_url"`
}

type checkRunsResponse struct {
	CheckRuns []CheckRun `json:"check_runs"`
}

// ListCheckRuns returns every check run for a commit SHA.
func (c *Client) ListCheckRuns(ctx context.Context, owner, repo, sha string) ([]CheckRun, error) {
	var resp checkRunsResponse
	path := fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs", owner, repo, sha)
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.CheckRuns, nil
}

// Review is a single pull request review submission.
type Review struct {
	User  User   `json:"user"`
	State string `json:"state"` // "APPROVED" | "CHANGES_REQUESTED" | "COMMENTED" | "PENDING"
	Body  string `json:"body"`
}

// User is the minimal GitHub user projection used in review/comment
// payloads.
type User struct {
	Login string `json:"login"`
}

// ListReviews returns every review submitted on a pull request.
func (c *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	var reviews []Review
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, number)
	if err := c.do(ctx, "GET", path, nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// ReviewComment is an inline review comment on a pull request diff.
type ReviewComment struct {
	ID        int64  `json:"id"`
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Body      string `json:"body"`
	HTMLURL   string `json:"html_url"`
	User      User   `json:"user"`
	InReplyTo *int64 `json:"in_reply_to_id,omitempty"`
}

// ListReviewComments returns every inline review comment on a pull
// request.
func (c *Client) ListReviewComments(ctx context.Context, owner, repo string, number int) ([]ReviewComment, error) {
	var comments []ReviewComment
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/comments", owner, repo, number)
	if err := c.do(ctx, "GET", path, nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// MergeRequest is the body of a merge pull request call.
type MergeRequest struct {
	MergeMethod string `json:"merge_method"` // "merge" | "squash" | "rebase"
}

// MergePullRequest merges a pull request with the given strategy.
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", owner, repo, number)
	return c.do(ctx, "PUT", path, MergeRequest{MergeMethod: method}, nil)
}

// ClosePullRequest closes a pull request without merging.
func (c *Client) ClosePullRequest(ctx context.Context, owner, repo string, number int) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	return c.do(ctx, "PATCH", path, map[string]string{"state": "closed"}, nil)
}
