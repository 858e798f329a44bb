package state

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
)

// FallbackProvider decorates the provider selected by configuration. When
// the primary fails to initialize and fallback is enabled, it transparently
// substitutes the file provider; Fallback reports whether that happened so
// callers can surface it.
type FallbackProvider struct {
	active   Provider
	primary  string
	fellBack bool
	reason   error
}

// Open builds the provider named by cfg.State.Provider rooted at basePath.
// If it cannot be initialized and cfg.State.Fallback is set, a file
// provider is used instead and a warning is logged; otherwise the
// initialization error is returned.
func Open(ctx context.Context, cfg *config.Config, basePath string) (*FallbackProvider, error) {
	primary, err := openPrimary(ctx, cfg, basePath)
	if err == nil {
		return &FallbackProvider{active: primary, primary: primary.Name()}, nil
	}
	if cfg.State.Provider == config.ProviderFile || !cfg.State.Fallback {
		return nil, err
	}

	logging.Warn("state provider unavailable, falling back to file provider",
		"provider", cfg.State.Provider, "error", err)

	file, ferr := NewFileProvider(FileDir(basePath))
	if ferr != nil {
		return nil, fmt.Errorf("fallback file provider: %w (primary: %v)", ferr, err)
	}
	return &FallbackProvider{active: file, primary: cfg.State.Provider, fellBack: true, reason: err}, nil
}

// Wrap decorates an already constructed provider without fallback.
func Wrap(p Provider) *FallbackProvider {
	return &FallbackProvider{active: p, primary: p.Name()}
}

// FileDir returns the file provider's directory for a project.
func FileDir(basePath string) string {
	return filepath.Join(basePath, config.DirName, "state")
}

func openPrimary(ctx context.Context, cfg *config.Config, basePath string) (Provider, error) {
	switch cfg.State.Provider {
	case config.ProviderFile, "":
		return NewFileProvider(FileDir(basePath))
	case config.ProviderSQLite:
		path := cfg.State.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(basePath, path)
		}
		return NewSQLiteProvider(path)
	case config.ProviderRemote:
		return NewRemoteProvider(ctx, RemoteOptions{
			BaseURL:     cfg.State.RemoteURL,
			Token:       cfg.ResolveSecret(cfg.State.TokenEnv),
			Team:        cfg.State.Team,
			MaxAttempts: cfg.State.MaxAttempts,
		})
	default:
		return nil, fmt.Errorf("unknown state provider %q", cfg.State.Provider)
	}
}

// Fallback reports whether the file provider was substituted.
func (f *FallbackProvider) Fallback() bool { return f.fellBack }

// Reason returns the primary's initialization error after a fallback.
func (f *FallbackProvider) Reason() error { return f.reason }

// Unwrap returns the active provider.
func (f *FallbackProvider) Unwrap() Provider { return f.active }

// Name reports the active provider, noting a substitution.
func (f *FallbackProvider) Name() string {
	if f.fellBack {
		return fmt.Sprintf("%s (fallback from %s)", f.active.Name(), f.primary)
	}
	return f.active.Name()
}

func (f *FallbackProvider) CreateTask(ctx context.Context, task NewTask) (string, error) {
	return f.active.CreateTask(ctx, task)
}

func (f *FallbackProvider) GetTask(ctx context.Context, id string) (*Task, error) {
	return f.active.GetTask(ctx, id)
}

func (f *FallbackProvider) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	return f.active.UpdateTask(ctx, id, patch)
}

func (f *FallbackProvider) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	return f.active.ListTasks(ctx, filter)
}

func (f *FallbackProvider) GetMeta(ctx context.Context) (*Meta, error) {
	return f.active.GetMeta(ctx)
}

func (f *FallbackProvider) UpdateMeta(ctx context.Context, patch MetaPatch) (*Meta, error) {
	return f.active.UpdateMeta(ctx, patch)
}

func (f *FallbackProvider) StartSession(ctx context.Context) (*Session, error) {
	return f.active.StartSession(ctx)
}

func (f *FallbackProvider) EndSession(ctx context.Context, id int, end SessionEnd) error {
	return f.active.EndSession(ctx, id, end)
}

func (f *FallbackProvider) ListSessions(ctx context.Context) ([]Session, error) {
	return f.active.ListSessions(ctx)
}

func (f *FallbackProvider) ProgressSummary(ctx context.Context) (Counts, error) {
	return f.active.ProgressSummary(ctx)
}

func (f *FallbackProvider) Close() error {
	return f.active.Close()
}
