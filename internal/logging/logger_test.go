package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCreatesWritableJSONLogFile(t *testing.T) {
	dir := t.TempDir()

	runtime, err := New(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "transcriber.log"), runtime.Path)

	runtime.Logger.Info("unit-test-log", "component", "logging")
	require.NoError(t, runtime.Close())

	contents, err := os.ReadFile(runtime.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"unit-test-log"`)
	require.Contains(t, string(contents), `"component":"logging"`)

	stat, err := os.Stat(runtime.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestNewAppendsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir)
	require.NoError(t, err)
	first.Logger.Info("first")
	require.NoError(t, first.Close())

	second, err := New(dir)
	require.NoError(t, err)
	second.Logger.Info("second")
	require.NoError(t, second.Close())

	contents, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "first")
	require.Contains(t, string(contents), "second")
}
