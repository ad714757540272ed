package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/costguardian/internal/config"
	"github.com/systmms/costguardian/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{Logger: logging.New(false, true)}
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRunCommand(testConfig())

	dryRun := cmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRun)
	assert.Equal(t, "true", dryRun.DefValue, "dry-run must default to on")

	for _, name := range []string{"no-dry-run", "tag-key", "tag-value", "allow-user", "secret-prefix", "slack-webhook"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestRunCommandRejectsInvalidConfig(t *testing.T) {
	cmd := NewRunCommand(testConfig())
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))

	// A tag key without a value fails validation before any AWS call.
	cmd.SetArgs([]string{"--tag-key", "AutoStop"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both a key and a value")
}

func TestCompletionCommandArgs(t *testing.T) {
	for _, args := range [][]string{{}, {"nosuchshell"}, {"bash", "zsh"}} {
		cmd := NewCompletionCommand(testConfig())
		cmd.SetOut(new(bytes.Buffer))
		cmd.SetErr(new(bytes.Buffer))
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), "args %v", args)
	}
}
