package githubclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetIssue_SendsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(Issue{Number: 1, State: "open", Title: "hello"})
	}))
	defer server.Close()

	c := New("test-token", WithBaseURL(server.URL))
	issue, err := c.GetIssue(context.Background(), "acme", "widgets", 1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "hello", issue.Title)
}

func TestClient_GetIssue_NonOKIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer server.Close()

	c := New("", WithBaseURL(server.URL))
	_, err := c.GetIssue(context.Background(), "acme", "widgets", 1)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Transient())
}

func TestClient_FindPullRequestByBranch_NoneReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]*PullRequest{})
	}))
	defer server.Close()

	c := New("", WithBaseURL(server.URL))
	pr, err := c.FindPullRequestByBranch(context.Background(), "acme", "widgets", "feat/x")
	require.NoError(t, err)
	assert.Nil(t, pr)
}

func TestClient_MergePullRequest_SendsMergeMethod(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New("", WithBaseURL(server.URL))
	err := c.MergePullRequest(context.Background(), "acme", "widgets", 42, "squash")
	require.NoError(t, err)
	assert.Equal(t, "squash", gotBody["merge_method"])
}
