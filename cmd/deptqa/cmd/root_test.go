package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command with --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	// When: executing
	err := cmd.Execute()

	// Then: help output lists the main commands
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "serve", "Help should list serve")
	assert.Contains(t, output, "ingest", "Help should list ingest")
	assert.Contains(t, output, "doctor", "Help should list doctor")
}

func TestRootCmd_Version(t *testing.T) {
	// Given: a root command with --version
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	// When: executing
	err := cmd.Execute()

	// Then: the version template is used
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "deptqa version")
}

func TestRootCmd_HasAllSubcommands(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()

	// Then: every documented subcommand is registered
	for _, name := range []string{
		"serve", "ingest", "rebuild", "trace", "cache",
		"reset", "orphans", "stats", "doctor", "config", "version",
	} {
		found, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %s should resolve", name)
		assert.Equal(t, name, found.Name())
	}
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	// Given: a root command with an unknown subcommand
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"definitely-not-a-command"})

	// When: executing
	err := cmd.Execute()

	// Then: it fails
	assert.Error(t, err)
}
