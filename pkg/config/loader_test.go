package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orchestrator.yaml"), []byte(body), 0o644))
}

func TestInitialize_MinimalConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
port: 8770
defaults:
  runtime: tmux
  agent: cli
  workspace: git-worktree
projects:
  app:
    name: App
    repo: https://github.com/acme/app
    path: /repos/app
    default_branch: main
    session_prefix: app
notifiers:
  ops:
    plugin: webhook
    url: https://hooks.example.com/ops
notification_routing:
  urgent: [ops]
reactions:
  ci_failed:
    auto: true
    action: send-to-agent
    retries: 3
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 8770, cfg.Port)
	assert.Equal(t, 1, cfg.Projects.Len())

	p, err := cfg.GetProject("app")
	require.NoError(t, err)
	assert.Equal(t, "app", p.SessionPrefix)

	rule := cfg.Reactions[StatusCIFailed]
	assert.Equal(t, ReactionSendToAgent, rule.Action)
}

func TestInitialize_MissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestInitialize_RejectsBadPort(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
port: 70000
projects: {}
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_RejectsNonHTTPWebhook(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
port: 8770
projects:
  app:
    name: App
    repo: https://github.com/acme/app
    path: /repos/app
    session_prefix: app
notifiers:
  bad:
    plugin: webhook
    url: ftp://example.com/hook
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_RejectsUnknownTopLevelKey(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
port: 8770
bogus_top_level_key: true
projects:
  app:
    name: App
    repo: https://github.com/acme/app
    path: /repos/app
    session_prefix: app
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_RejectsDuplicateSessionPrefix(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
port: 8770
projects:
  app1:
    name: App One
    repo: https://github.com/acme/app1
    path: /repos/app1
    session_prefix: app
  app2:
    name: App Two
    repo: https://github.com/acme/app2
    path: /repos/app2
    session_prefix: app
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}
