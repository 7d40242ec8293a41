package githubclient

import (
	"context"
	"fmt"
	"net/url"
)

// Issue is the GitHub REST shape this client round-trips, trimmed to the
// fields the tracker contract needs.
type Issue struct {
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	State       string  `json:"state"`                  // "open" | "closed"
	StateReason string  `json:"state_reason,omitempty"` // "completed" | "not_planned" | ""
	HTMLURL     string  `json:"html_url"`
	Labels      []Label `json:"labels"`
}

// Label is a GitHub issue/PR label.
type Label struct {
	Name string `json:"name"`
}

// GetIssue fetches issue number from owner/repo.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	var issue Issue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	if err := c.do(ctx, "GET", path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListIssues lists issues matching filter (state, labels, assignee).
func (c *Client) ListIssues(ctx context.Context, owner, repo string, filter map[string]string) ([]*Issue, error) {
	q := url.Values{}
	for k, v := range filter {
		q.Set(k, v)
	}
	path := fmt.Sprintf("/repos/%s/%s/issues", owner, repo)
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var issues []*Issue
	if err := c.do(ctx, "GET", path, nil, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// UpdateIssue patches the given fields (e.g. state, labels, body) on an
// issue.
func (c *Client) UpdateIssue(ctx context.Context, owner, repo string, number int, fields map[string]interface{}) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	return c.do(ctx, "PATCH", path, fields, nil)
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, fields map[string]interface{}) (*Issue, error) {
	var issue Issue
	path := fmt.Sprintf("/repos/%s/%s/issues", owner, repo)
	if err := c.do(ctx, "POST", path, fields, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}
