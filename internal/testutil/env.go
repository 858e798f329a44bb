package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
	"github.com/thruflo/autocoder/internal/state"
)

// SetupProject creates a temporary project with a .autocoder directory, a
// default configuration and a file provider. The config runs in autonomous
// mode with no notification channels so tests never wait on a terminal.
func SetupProject(t *testing.T) (string, *config.Config, *state.FileProvider) {
	t.Helper()

	basePath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(basePath, config.DirName, "logs"), 0o755))

	cfg := config.DefaultConfig()
	cfg.ProjectName = "auth"
	cfg.Mode = config.ModeAutonomous
	cfg.WorkDir = basePath
	cfg.RateLimitRPM = 0
	cfg.Approval.Notification.Channels = nil

	provider, err := state.NewFileProvider(state.FileDir(basePath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	return basePath, &cfg, provider
}

// SeedTasks creates tasks in order and returns their IDs.
func SeedTasks(t *testing.T, p state.Provider, tasks []state.NewTask) []string {
	t.Helper()
	ids := make([]string, 0, len(tasks))
	for _, nt := range tasks {
		id, err := p.CreateTask(context.Background(), nt)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewTestLogger returns a debug-level logger and the buffer it writes to.
func NewTestLogger(t *testing.T) (*logging.Logger, *SyncBuffer) {
	t.Helper()
	buf := &SyncBuffer{}
	logger := logging.New()
	logger.SetOutput(log.New(buf, "", 0))
	logger.SetLevel(logging.LevelDebug)
	return logger, buf
}

// FindProjectRoot walks up from the working directory to the module root.
func FindProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above working directory")
		}
		dir = parent
	}
}

// MustMarshalJSON marshals a value to indented JSON, failing the test on
// error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return data
}

// MustUnmarshalJSON unmarshals JSON data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// WriteTestFile writes content below basePath, creating parent directories.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) string {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, content, 0o644))
	return fullPath
}
