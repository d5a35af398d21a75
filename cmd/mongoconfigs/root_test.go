package main

import (
	"bytes"
	"testing"

	"github.com/dailyyoga/mongoconfigs/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MONGOCONFIGS_LOG_OUTPUT_PATHS", "stderr")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--memory"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReloadCommand_EmptyStore(t *testing.T) {
	out, err := run(t, "reload", "shop", "gui", "--announce=false")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, out)
}

func TestGetCommand_MissingMessage(t *testing.T) {
	out, err := run(t, "get", "shop", "pl", "greeting")
	assert.Error(t, err)
	assert.Equal(t, "Missing message: greeting for pl\n", out)
}

func TestGetCommand_Args(t *testing.T) {
	_, err := run(t, "get", "shop")
	assert.Error(t, err)
}
