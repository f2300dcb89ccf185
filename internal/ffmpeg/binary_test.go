package ffmpeg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o750))
	return path
}

func TestFindBinaryEnvOverride(t *testing.T) {
	path := writeExecutable(t, t.TempDir(), "fake-ffmpeg")
	t.Setenv("TEST_FFMPEG_BINARY", path)

	got, err := findBinary("fake-ffmpeg", "TEST_FFMPEG_BINARY")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFindBinaryEnvOverrideNotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	t.Setenv("TEST_FFMPEG_BINARY", path)

	_, err := findBinary("definitely-not-on-path-12345", "TEST_FFMPEG_BINARY")
	assert.Error(t, err)
}

func TestFindBinaryMissing(t *testing.T) {
	_, err := findBinary("definitely-not-on-path-12345", "")
	assert.ErrorContains(t, err, "not found")
}
