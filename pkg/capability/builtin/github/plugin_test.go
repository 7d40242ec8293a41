package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/githubclient"
	"github.com/codeready-toolchain/tarsy/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlugin(t *testing.T, handler http.HandlerFunc) *Plugin {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Plugin{
		client: githubclient.New("", githubclient.WithBaseURL(server.URL)),
		owner:  "acme",
		repo:   "widgets",
	}
}

func TestPlugin_IsCompleted(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(githubclient.Issue{Number: 1, State: "closed"})
	})
	done, err := p.IsCompleted(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestPlugin_BranchName(t *testing.T) {
	p := newTestPlugin(t, nil)
	branch, err := p.BranchName(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "issue-42", branch)
}

func TestPlugin_GetReviewDecision_ChangesRequestedWins(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]githubclient.Review{
			{User: githubclient.User{Login: "alice"}, State: "APPROVED"},
			{User: githubclient.User{Login: "bob"}, State: "CHANGES_REQUESTED"},
		})
	})
	decision, err := p.GetReviewDecision(context.Background(), &session.PR{Number: 1})
	require.NoError(t, err)
	assert.Equal(t, config.ReviewDecisionChangesRequested, decision)
}

func TestPlugin_GetMergeability_RateLimitedDegradesToBlocker(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	m, err := p.GetMergeability(context.Background(), &session.PR{Number: 1})
	require.NoError(t, err)
	assert.Contains(t, m.Blockers, "api_rate_limited")
	assert.False(t, m.Mergeable)
}
