// Package github adapts githubclient into both the Tracker and SCM
// contracts (§4.6), since a single GitHub repo is naturally both an
// issue tracker and a pull-request forge. Two small factories register
// it under both slots; they share one underlying *githubclient.Client.
package github

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/githubclient"
)

// Plugin implements both capability.Tracker and capability.SCM against a
// single GitHub repository.
type Plugin struct {
	client      *githubclient.Client
	owner, repo string
}

// settings keys read from a project's tracker_config/scm settings block.
const (
	settingRepo     = "repo"      // "owner/name"
	settingToken    = "token"     // literal token
	settingTokenEnv = "token_env" // env var name holding the token
)

func newPlugin(settings map[string]interface{}) (*Plugin, error) {
	repo, _ := settings[settingRepo].(string)
	if repo == "" {
		return nil, fmt.Errorf("github plugin: %q setting is required", settingRepo)
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return nil, fmt.Errorf("github plugin: %q must be \"owner/repo\", got %q", settingRepo, repo)
	}

	token, _ := settings[settingToken].(string)
	if token == "" {
		if envVar, _ := settings[settingTokenEnv].(string); envVar != "" {
			token = os.Getenv(envVar)
		} else {
			token = os.Getenv("GITHUB_TOKEN")
		}
	}

	return &Plugin{
		client: githubclient.New(token),
		owner:  owner,
		repo:   name,
	}, nil
}

// TrackerFactory constructs the Tracker half of the plugin.
func TrackerFactory(settings map[string]interface{}) (interface{}, error) {
	p, err := newPlugin(settings)
	if err != nil {
		return nil, err
	}
	return capability.Tracker(p), nil
}

// SCMFactory constructs the SCM half of the plugin.
func SCMFactory(settings map[string]interface{}) (interface{}, error) {
	p, err := newPlugin(settings)
	if err != nil {
		return nil, err
	}
	return capability.SCM(p), nil
}

func parseIssueNumber(issueID string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(issueID, "#"))
	if err != nil {
		return 0, fmt.Errorf("github tracker: issue id %q is not a GitHub issue number: %w", issueID, err)
	}
	return n, nil
}
