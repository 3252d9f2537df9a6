package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/examlens/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestLoadModelsMissingFile(t *testing.T) {
	models, err := loadModels(filepath.Join(t.TempDir(), "models.yaml"), discardLogger())
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestLoadModelsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - id: 1\n"), 0o600))

	_, err := loadModels(path, discardLogger())
	require.Error(t, err)
}

func TestNewRemotes(t *testing.T) {
	reg := newRemotes(config.Config{}, discardLogger())
	_, ok := reg.Lookup("memory")
	assert.True(t, ok)

	reg = newRemotes(config.Config{RemoteURL: "http://queue.local", RemoteRPS: 5}, discardLogger())
	_, ok = reg.Lookup("http")
	assert.True(t, ok)
	_, ok = reg.Lookup("memory")
	assert.False(t, ok)
}
