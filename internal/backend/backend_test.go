package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/security"
	"github.com/thruflo/autocoder/internal/sprite"
)

const sampleStream = `{"type":"system","subtype":"init","session_id":"s-1","tools":["Bash"]}
{"type":"assistant","session_id":"s-1","message":{"content":[{"type":"text","text":"Working on it"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}
not json at all
{"type":"result","subtype":"success","session_id":"s-1","result":"Done.\nTASK COMPLETE","total_cost_usd":0.042,"num_turns":3,"usage":{"input_tokens":1200,"output_tokens":300}}`

type fakeExecutor struct {
	lines    string
	exitCode int
	stderr   string
	err      error

	dir  string
	args []string
}

func (f *fakeExecutor) Run(ctx context.Context, dir string, args []string, onLine func(string)) (int, string, error) {
	f.dir = dir
	f.args = args
	if f.err != nil {
		return -1, "", f.err
	}
	for _, line := range strings.Split(f.lines, "\n") {
		onLine(line)
	}
	return f.exitCode, f.stderr, nil
}

func TestStreamState(t *testing.T) {
	t.Parallel()

	var st StreamState
	for _, line := range strings.Split(sampleStream, "\n") {
		st.Update(line)
	}

	require.True(t, st.Done())
	assert.False(t, st.Failed())
	assert.Equal(t, "s-1", st.SessionID)
	assert.Equal(t, []string{"Bash"}, st.ToolUses)
	assert.Equal(t, 1, st.Malformed)

	resp := st.Response()
	assert.Equal(t, "Done.\nTASK COMPLETE", resp.Text)
	assert.InDelta(t, 0.042, resp.CostUSD, 1e-9)
	assert.Equal(t, 3, resp.Turns)
	assert.Equal(t, 1200, resp.InputTokens)
	assert.Equal(t, 300, resp.OutputTokens)
}

func TestStreamState_LegacyCostAndNoResultText(t *testing.T) {
	t.Parallel()

	var st StreamState
	st.Update(`{"type":"assistant","message":{"content":[{"type":"text","text":"first"}]}}`)
	st.Update(`{"type":"assistant","message":{"content":[{"type":"text","text":"second"}]}}`)
	st.Update(`{"type":"result","subtype":"success","cost_usd":0.5}`)

	resp := st.Response()
	assert.Equal(t, "first\nsecond", resp.Text)
	assert.Equal(t, 0.5, resp.CostUSD)
	assert.Equal(t, 1, resp.Turns)
}

func TestParseStreamEvent(t *testing.T) {
	t.Parallel()

	ev, err := ParseStreamEvent("   ")
	require.NoError(t, err)
	assert.Nil(t, ev)

	_, err = ParseStreamEvent("{")
	require.Error(t, err)
}

func TestClaude_Complete(t *testing.T) {
	t.Parallel()

	ex := &fakeExecutor{lines: sampleStream, exitCode: 1}
	c := NewClaude(config.BackendClaudeCLI, ex, ClaudeOptions{Model: "claude-opus-4"})

	resp, err := c.Complete(context.Background(), Request{
		System:  "standing instructions",
		Prompt:  "do the task",
		WorkDir: "/work",
	})
	require.NoError(t, err, "a result event wins over a non-zero exit code")
	assert.Equal(t, "Done.\nTASK COMPLETE", resp.Text)
	assert.Equal(t, "/work", ex.dir)
	assert.Equal(t, []string{
		"claude", "-p", "do the task",
		"--output-format", "stream-json", "--verbose", "--max-turns", "1",
		"--model", "claude-opus-4",
		"--append-system-prompt", "standing instructions",
	}, ex.args)
}

func TestClaude_NoResultIsError(t *testing.T) {
	t.Parallel()

	ex := &fakeExecutor{lines: `{"type":"system","subtype":"init"}`, exitCode: 2, stderr: "not logged in"}
	c := NewClaude(config.BackendClaudeCLI, ex, ClaudeOptions{})

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 2")
	assert.Contains(t, err.Error(), "not logged in")
}

func TestClaude_ErrorResult(t *testing.T) {
	t.Parallel()

	ex := &fakeExecutor{lines: `{"type":"result","subtype":"error_max_turns","is_error":true,"result":"max turns"}`}
	c := NewClaude(config.BackendClaudeCLI, ex, ClaudeOptions{})

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max turns")
}

func TestClaude_EstimatesCostWithoutReport(t *testing.T) {
	t.Parallel()

	ex := &fakeExecutor{lines: `{"type":"result","subtype":"success","result":"hello there"}`}
	c := NewClaude(config.BackendClaudeCLI, ex, ClaudeOptions{Pricing: Pricing{InputPerMTok: 3, OutputPerMTok: 15}})

	resp, err := c.Complete(context.Background(), Request{Prompt: "say hello to the user please"})
	require.NoError(t, err)
	assert.True(t, resp.Estimated)
	assert.Greater(t, resp.InputTokens, 0)
	assert.Greater(t, resp.OutputTokens, 0)
	assert.Greater(t, resp.CostUSD, 0.0)
}

func TestClaude_RegistersHookOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ex := &fakeExecutor{lines: `{"type":"result","subtype":"success","result":"ok","total_cost_usd":0.01}`}
	c := NewClaude(config.BackendClaudeCLI, ex, ClaudeOptions{HookBinary: "/usr/local/bin/autocoder", HookConfig: "/srv/app/ci.yaml"})

	_, err := c.Complete(context.Background(), Request{Prompt: "x", WorkDir: dir})
	require.NoError(t, err)

	data, err := os.ReadFile(security.SettingsPath(dir))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/usr/local/bin/autocoder hook pre-tool-use --config /srv/app/ci.yaml")

	require.NoError(t, os.Remove(security.SettingsPath(dir)))
	_, err = c.Complete(context.Background(), Request{Prompt: "x", WorkDir: dir})
	require.NoError(t, err)
	_, err = os.Stat(security.SettingsPath(dir))
	assert.True(t, os.IsNotExist(err), "settings are written once per work dir")
}

func TestClaude_ExecutorError(t *testing.T) {
	t.Parallel()

	ex := &fakeExecutor{err: errors.New("exec: claude: not found")}
	c := NewClaude(config.BackendClaudeCLI, ex, ClaudeOptions{})
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
}

func TestLocalExecutor(t *testing.T) {
	t.Parallel()

	var lines []string
	code, stderr, err := LocalExecutor{}.Run(context.Background(), t.TempDir(),
		[]string{"sh", "-c", "echo one; echo two; echo oops >&2; exit 3"},
		func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "oops", stderr)
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestSpriteBackend(t *testing.T) {
	t.Parallel()

	m := sprite.NewMockClient()
	m.AddSprite("autocoder-test")
	m.SetExecuteFunc(func(dir string, args []string) ([]byte, []byte, int, error) {
		if args[0] == "bash" {
			return []byte(`{"type":"result","subtype":"success","result":"TASK COMPLETE","total_cost_usd":0.2}` + "\n"), nil, 0, nil
		}
		return nil, nil, 0, nil
	})

	b := NewSprite(m, "autocoder-test", ClaudeOptions{HookBinary: "/bin/autocoder"})
	assert.Equal(t, config.BackendSprite, b.Name())

	resp, err := b.Complete(context.Background(), Request{Prompt: "go", WorkDir: t.TempDir()})
	if err != nil {
		// Provisioning needs local claude credentials.
		assert.Contains(t, err.Error(), "provision")
		return
	}
	assert.Equal(t, "TASK COMPLETE", resp.Text)

	calls := m.ExecuteCalls()
	last := calls[len(calls)-1]
	assert.Equal(t, sprite.WorkspaceDir, last.Dir)
	assert.Contains(t, last.Args[2], "claude -p go")
}

func TestAnthropic_Complete(t *testing.T) {
	t.Parallel()

	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",
			"content":[{"type":"text","text":"TASK COMPLETE"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":1000000,"output_tokens":100000}}`)
	}))
	defer srv.Close()

	a := NewAnthropic(APIOptions{APIKey: "k", BaseURL: srv.URL, Pricing: Pricing{InputPerMTok: 3, OutputPerMTok: 15}})
	resp, err := a.Complete(context.Background(), Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "TASK COMPLETE", resp.Text)
	assert.Equal(t, 1000000, resp.InputTokens)
	assert.InDelta(t, 4.5, resp.CostUSD, 1e-9)
	assert.False(t, resp.Estimated)
	assert.Equal(t, config.DefaultModel, got["model"])
}

func TestOpenAI_Complete(t *testing.T) {
	t.Parallel()

	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"resp_1","object":"response","created_at":0,"model":"gpt-5","status":"completed",
			"output":[{"type":"message","id":"m1","role":"assistant","status":"completed",
				"content":[{"type":"output_text","text":"TASK BLOCKED: no db","annotations":[]}]}],
			"usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}`)
	}))
	defer srv.Close()

	o := NewOpenAI(APIOptions{APIKey: "k", BaseURL: srv.URL + "/"})
	resp, err := o.Complete(context.Background(), Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "TASK BLOCKED: no db", resp.Text)
	assert.Equal(t, 10, resp.InputTokens)
	assert.Equal(t, DefaultOpenAIModel, got["model"])
	assert.Equal(t, "sys", got["instructions"])
}

func TestNew(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	b, err := New(&cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.BackendClaudeCLI, b.Name())

	for _, name := range []string{config.BackendAnthropic, config.BackendOpenAI, config.BackendSprite} {
		cfg := config.DefaultConfig()
		cfg.Backend = name
		cfg.Backends.AnthropicKeyEnv = "AUTOCODER_TEST_UNSET_A"
		cfg.Backends.OpenAIKeyEnv = "AUTOCODER_TEST_UNSET_O"
		cfg.Backends.SpriteTokenEnv = "AUTOCODER_TEST_UNSET_S"
		_, err := New(&cfg, Options{})
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "AUTOCODER_TEST_UNSET")
	}

	cfg.Backend = "gemini"
	_, err = New(&cfg, Options{})
	require.Error(t, err)
}

func TestScripted(t *testing.T) {
	t.Parallel()

	s := NewScripted(Reply{Text: "a", CostUSD: 0.1}, Reply{Err: errors.New("boom")})
	ctx := context.Background()

	resp, err := s.Complete(ctx, Request{Prompt: "1"})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Text)

	_, err = s.Complete(ctx, Request{Prompt: "2"})
	require.EqualError(t, err, "boom")

	_, err = s.Complete(ctx, Request{Prompt: "3"})
	require.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, s.Calls(), 3)

	f := NewScriptedFunc(func(r Request) Reply { return Reply{Text: strings.ToUpper(r.Prompt)} })
	resp, err = f.Complete(ctx, Request{Prompt: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "ECHO", resp.Text)
}

func TestPricing(t *testing.T) {
	t.Parallel()

	p := Pricing{InputPerMTok: 3, OutputPerMTok: 15}
	assert.InDelta(t, 0.018, p.Cost(1000, 1000), 1e-9)
}
