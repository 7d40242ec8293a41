package github

import (
	"context"
	"fmt"
	"strconv"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/githubclient"
)

// GetIssue implements capability.Tracker.
func (p *Plugin) GetIssue(ctx context.Context, issueID string) (*capability.Issue, error) {
	n, err := parseIssueNumber(issueID)
	if err != nil {
		return nil, err
	}
	issue, err := p.client.GetIssue(ctx, p.owner, p.repo, n)
	if err != nil {
		return nil, err
	}
	return toIssue(issue), nil
}

// IsCompleted implements capability.Tracker.
func (p *Plugin) IsCompleted(ctx context.Context, issueID string) (bool, error) {
	issue, err := p.GetIssue(ctx, issueID)
	if err != nil {
		return false, err
	}
	return issue.State.IsClosed(), nil
}

// ListIssues implements capability.Tracker.
func (p *Plugin) ListIssues(ctx context.Context, filter map[string]interface{}) ([]*capability.Issue, error) {
	ghFilter := make(map[string]string, len(filter))
	for k, v := range filter {
		if s, ok := v.(string); ok {
			ghFilter[k] = s
		}
	}
	issues, err := p.client.ListIssues(ctx, p.owner, p.repo, ghFilter)
	if err != nil {
		return nil, err
	}
	out := make([]*capability.Issue, len(issues))
	for i, issue := range issues {
		out[i] = toIssue(issue)
	}
	return out, nil
}

// UpdateIssue implements capability.Tracker.
func (p *Plugin) UpdateIssue(ctx context.Context, issueID string, fields map[string]interface{}) error {
	n, err := parseIssueNumber(issueID)
	if err != nil {
		return err
	}
	return p.client.UpdateIssue(ctx, p.owner, p.repo, n, fields)
}

// CreateIssue implements capability.Tracker.
func (p *Plugin) CreateIssue(ctx context.Context, fields map[string]interface{}) (*capability.Issue, error) {
	issue, err := p.client.CreateIssue(ctx, p.owner, p.repo, fields)
	if err != nil {
		return nil, err
	}
	return toIssue(issue), nil
}

// GeneratePrompt implements capability.Tracker, building an agent prompt
// from the issue's title and body.
func (p *Plugin) GeneratePrompt(ctx context.Context, issueID string) (string, error) {
	issue, err := p.GetIssue(ctx, issueID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Resolve the following GitHub issue.\n\nTitle: %s\n\n%s", issue.Title, issue.Raw["body"]), nil
}

// BranchName implements capability.Tracker.
func (p *Plugin) BranchName(ctx context.Context, issueID string) (string, error) {
	n, err := parseIssueNumber(issueID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("issue-%d", n), nil
}

// IssueURL implements capability.Tracker.
func (p *Plugin) IssueURL(ctx context.Context, issueID string) (string, error) {
	issue, err := p.GetIssue(ctx, issueID)
	if err != nil {
		return "", err
	}
	return issue.URL, nil
}

// IssueLabel implements capability.Tracker.
func (p *Plugin) IssueLabel(ctx context.Context, issueID string) (string, error) {
	n, err := parseIssueNumber(issueID)
	if err != nil {
		return "", err
	}
	return "#" + strconv.Itoa(n), nil
}

func toIssue(issue *githubclient.Issue) *capability.Issue {
	return &capability.Issue{
		ID:    strconv.Itoa(issue.Number),
		State: issueState(issue),
		Title: issue.Title,
		URL:   issue.HTMLURL,
		Raw: map[string]interface{}{
			"body":   issue.Body,
			"number": issue.Number,
		},
	}
}

func issueState(issue *githubclient.Issue) config.IssueState {
	if issue.State == "open" {
		for _, l := range issue.Labels {
			if l.Name == "in-progress" || l.Name == "in progress" {
				return config.IssueStateInProgress
			}
		}
		return config.IssueStateOpen
	}
	if issue.StateReason == "not_planned" {
		return config.IssueStateCancelled
	}
	return config.IssueStateClosed
}
