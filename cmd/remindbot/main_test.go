package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAddListDelete(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("telegram:\n  dry_run: true\nlogging:\n  level: error\n  console: false\nstorage:\n  driver: file\n  path: %s\n",
		filepath.Join(dir, "reminders.json"))
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o600))
	env := filepath.Join(dir, "missing.env")

	out, err := execute(t, "add", "--config", cfg, "--env", env,
		"--owner", "42", "--user", "42", "--title", "Stretch", "--at", "2h", "--lead", "15m")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = execute(t, "list", "--config", cfg, "--env", env, "--owner", "42")
	require.NoError(t, err)
	require.Contains(t, out, id)
	require.Contains(t, out, "Stretch")
	require.Contains(t, out, "dm:42")

	_, err = execute(t, "delete", "--config", cfg, "--env", env, "--owner", "7", id)
	require.ErrorContains(t, err, "no reminder")

	out, err = execute(t, "delete", "--config", cfg, "--env", env, "--owner", "42", id)
	require.NoError(t, err)
	require.Contains(t, out, "deleted "+id)

	out, err = execute(t, "list", "--config", cfg, "--env", env, "--owner", "42")
	require.NoError(t, err)
	require.Contains(t, out, "no reminders")
}
