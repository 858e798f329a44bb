package sprite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmdOutput(t *testing.T) {
	t.Parallel()

	m := NewMockClient()
	m.SetExecuteFunc(func(dir string, args []string) ([]byte, []byte, int, error) {
		return []byte("out\n"), []byte("err\n"), 3, nil
	})

	cmd, err := m.Execute(context.Background(), "s", "/w", nil, "true")
	require.NoError(t, err)

	stdout, stderr, code, err := cmd.Output()
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(stdout))
	assert.Equal(t, "err\n", string(stderr))
	assert.Equal(t, 3, code)
}

func TestEnsure(t *testing.T) {
	t.Parallel()

	m := NewMockClient()
	ctx := context.Background()

	created, err := Ensure(ctx, m, "autocoder-1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = Ensure(ctx, m, "autocoder-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"autocoder-1"}, m.CreateCalls())
}

func TestGenerateName(t *testing.T) {
	t.Parallel()

	a := GenerateName("shop", "/src/shop")
	b := GenerateName("shop", "/src/shop")
	c := GenerateName("shop", "/src/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "autocoder-"))
	assert.Len(t, a, len("autocoder-")+8)
}

func TestQuote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"claude", "claude"},
		{"--max-turns", "--max-turns"},
		{"", "''"},
		{"two words", "'two words'"},
		{"it's", `'it'\''s'`},
		{"$(id)", "'$(id)'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in), "input %q", tt.in)
	}
}

func TestClaudeCommand(t *testing.T) {
	t.Parallel()

	args := ClaudeCommand([]string{"claude", "-p", "fix the bug"})
	require.Len(t, args, 3)
	assert.Equal(t, "bash", args[0])
	assert.Equal(t, "-c", args[1])
	assert.Contains(t, args[2], "export HOME="+Home)
	assert.True(t, strings.HasSuffix(args[2], "claude -p 'fix the bug'"))
}

func TestProvision_MkdirFailure(t *testing.T) {
	t.Parallel()

	m := NewMockClient()
	m.SetExecuteFunc(func(dir string, args []string) ([]byte, []byte, int, error) {
		return nil, []byte("read-only file system"), 1, nil
	})
	err := Provision(context.Background(), m, "autocoder-x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only file system")
}

func TestReadCredentials(t *testing.T) {
	t.Parallel()

	none := func() []byte { return nil }

	t.Run("keychain wins", func(t *testing.T) {
		t.Parallel()
		got, err := readCredentials(t.TempDir(), func() []byte { return []byte("kc") })
		require.NoError(t, err)
		assert.Equal(t, "kc", string(got))
	})

	t.Run("standard location", func(t *testing.T) {
		t.Parallel()
		home := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".claude"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(home, ".claude", ".credentials.json"), []byte(`{"a":1}`), 0o600))
		got, err := readCredentials(home, none)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(got))
	})

	t.Run("older location", func(t *testing.T) {
		t.Parallel()
		home := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".config", "claude"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(home, ".config", "claude", ".credentials.json"), []byte(`{"b":2}`), 0o600))
		got, err := readCredentials(home, none)
		require.NoError(t, err)
		assert.Equal(t, `{"b":2}`, string(got))
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		_, err := readCredentials(t.TempDir(), none)
		require.Error(t, err)
	})
}

func TestMockExecuteError(t *testing.T) {
	t.Parallel()

	m := NewMockClient()
	m.SetExecuteFunc(func(dir string, args []string) ([]byte, []byte, int, error) {
		return nil, nil, -1, errors.New("connection reset")
	})
	_, err := m.Execute(context.Background(), "s", "", nil, "ls")
	require.Error(t, err)
	require.Len(t, m.ExecuteCalls(), 1)
	assert.Equal(t, []string{"ls"}, m.ExecuteCalls()[0].Args)
}

var _ Client = (*MockClient)(nil)
var _ Client = (*SDKClient)(nil)
