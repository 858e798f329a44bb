package sprite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// ExecuteFunc scripts the result of a command run on a MockClient.
type ExecuteFunc func(dir string, args []string) (stdout, stderr []byte, exitCode int, err error)

// MockClient implements Client in memory for tests in this and other
// packages.
type MockClient struct {
	mu sync.Mutex

	files   map[string][]byte
	sprites map[string]bool
	execute ExecuteFunc

	createCalls  []string
	deleteCalls  []string
	executeCalls []MockExecuteCall
}

// MockExecuteCall records an Execute or ExecuteOutput call.
type MockExecuteCall struct {
	Name string
	Dir  string
	Args []string
}

// NewMockClient creates an empty MockClient whose commands succeed silently.
func NewMockClient() *MockClient {
	return &MockClient{
		files:   make(map[string][]byte),
		sprites: make(map[string]bool),
	}
}

// SetExecuteFunc scripts command results.
func (m *MockClient) SetExecuteFunc(fn ExecuteFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execute = fn
}

// AddSprite marks a sprite as existing.
func (m *MockClient) AddSprite(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sprites[name] = true
}

// Create records the call and marks the sprite as existing.
func (m *MockClient) Create(ctx context.Context, name string, checkpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls = append(m.createCalls, name)
	m.sprites[name] = true
	return nil
}

// Delete removes the sprite.
func (m *MockClient) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, name)
	delete(m.sprites, name)
	return nil
}

// Exists reports whether the sprite was created or added.
func (m *MockClient) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sprites[name], nil
}

func (m *MockClient) run(name, dir string, args []string) ([]byte, []byte, int, error) {
	m.mu.Lock()
	m.executeCalls = append(m.executeCalls, MockExecuteCall{Name: name, Dir: dir, Args: append([]string(nil), args...)})
	fn := m.execute
	m.mu.Unlock()

	if fn == nil {
		return nil, nil, 0, nil
	}
	return fn(dir, args)
}

// Execute returns a Cmd whose pipes replay the scripted output.
func (m *MockClient) Execute(ctx context.Context, name string, dir string, env []string, args ...string) (*Cmd, error) {
	stdout, stderr, exitCode, err := m.run(name, dir, args)
	if err != nil {
		return nil, err
	}
	return &Cmd{
		Stdout:   io.NopCloser(bytes.NewReader(stdout)),
		Stderr:   io.NopCloser(bytes.NewReader(stderr)),
		exitCode: exitCode,
	}, nil
}

// ExecuteOutput returns the scripted output.
func (m *MockClient) ExecuteOutput(ctx context.Context, name string, dir string, env []string, args ...string) ([]byte, []byte, int, error) {
	return m.run(name, dir, args)
}

// WriteFile stores content in the mock filesystem.
func (m *MockClient) WriteFile(ctx context.Context, name string, path string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), content...)
	return nil
}

// ReadFile reads from the mock filesystem.
func (m *MockClient) ReadFile(ctx context.Context, name string, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("failed to read file %s: not found", path)
	}
	return data, nil
}

// File returns a file from the mock filesystem.
func (m *MockClient) File(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	return data, ok
}

// CreateCalls returns the names passed to Create.
func (m *MockClient) CreateCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.createCalls...)
}

// ExecuteCalls returns every recorded command.
func (m *MockClient) ExecuteCalls() []MockExecuteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockExecuteCall(nil), m.executeCalls...)
}
