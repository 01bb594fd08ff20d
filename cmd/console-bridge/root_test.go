package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devricklin/feishu-console-bridge/internal/data"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "console-bridge dev")
}

func TestConfigInitThenCheck(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "bot.json")

	out, err := execute(t, "config", "init", "--document", doc, "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default document")
	assert.FileExists(t, doc)

	out, err = execute(t, "config", "init", "--document", doc, "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// The default token is a placeholder
	_, err = execute(t, "config", "check", "--document", doc, "--state-dir", dir)
	require.Error(t, err)
	assert.Equal(t, errs.CodeConfigTokenInvalid, errs.CodeOf(err))
}

func TestConfigCheckReportsDocument(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "bot.yaml")
	require.NoError(t, os.WriteFile(doc, []byte(`
bot:
  token: cli_a:secret
  consoleChannelIds: [oc_1, oc_2]
  delay_between_queue_polls_ms: 1000
presence:
  type: flying
  text: nowhere
permissions:
  useWhitelist: true
  useBlacklist: false
  whitelistedUsers: [ou_1]
  blacklistedUsers: []
  users:
    ou_1: ["*"]
`), 0o600))

	out, err := execute(t, "config", "check", "--document", doc, "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "oc_1, oc_2")
	assert.Contains(t, out, "1s")
	assert.Contains(t, out, "Whitelist:     true")
	assert.Contains(t, out, "Presence:      invalid")
}

func TestConfigCheckCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "bot.json")

	out, err := execute(t, "config", "check", "--document", doc, "--state-dir", dir)
	require.Error(t, err)
	assert.Equal(t, errs.CodeConfigTokenInvalid, errs.CodeOf(err))
	assert.Contains(t, out, "No document at")
	assert.Contains(t, out, "Ticket store:  not created yet")
	assert.NoFileExists(t, doc)
	assert.NoFileExists(t, filepath.Join(dir, data.TicketDBName))
}

func TestConfigCheckReportsTicketStore(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "bot.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"bot": {"token": "cli_a:secret", "consoleChannelIds": ["oc_1"]}}`), 0o600))

	_, err := execute(t, "rotations", "list", "--state-dir", dir, "--document", doc)
	require.NoError(t, err)

	out, err := execute(t, "config", "check", "--document", doc, "--state-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Ticket store:  up to date")
}

func TestRotationsListEmpty(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "rotations", "list", "--state-dir", dir, "--document", filepath.Join(dir, "bot.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "No rotations")
}

func TestServeRequiresProcessCommand(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "serve", "--state-dir", dir, "--document", filepath.Join(dir, "bot.json"))
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestSendRefusesPlaceholderToken(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "send", "--state-dir", dir, "--document", filepath.Join(dir, "bot.json"), "maintenance in 5 minutes")
	require.Error(t, err)
	assert.Equal(t, errs.CodeConfigTokenInvalid, errs.CodeOf(err))
}
