package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/thruflo/autocoder/internal/backend"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
	"github.com/thruflo/autocoder/internal/state"
)

// Seams overridden in tests.
var (
	// getwd resolves the project root.
	getwd = os.Getwd

	// newBackend builds the generative backend for init and start.
	newBackend = backend.New

	// openProvider opens the configured state provider with fallback.
	openProvider = state.Open
)

// LogFileName is the session log inside .autocoder/logs/.
const LogFileName = "autocoder.log"

// LogPath returns the session log location for a project.
func LogPath(basePath string) string {
	return filepath.Join(basePath, config.DirName, "logs", LogFileName)
}

// project holds what most commands need: the root and the effective config.
type project struct {
	basePath string
	// configPath is the absolute --config path, empty for the default.
	configPath string
	cfg        *config.Config
	logger     *logging.Logger
	logFile    io.Closer
}

// loadProject resolves the project root and loads the config named by
// --config, configuring the default logger from log_level.
func loadProject() (*project, error) {
	basePath, err := getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := configPath(basePath)
	cfg, err := config.LoadConfigFile(basePath, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)

	return &project{basePath: basePath, configPath: path, cfg: cfg, logger: logging.Default()}, nil
}

// configPath resolves --config against basePath. It returns "" when the
// flag is unset.
func configPath(basePath string) string {
	path := configFile
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(basePath, path)
	}
	return path
}

// teeLogs sends log output to stderr and the session log file.
func (p *project) teeLogs() error {
	w, closer, err := logging.OpenFile(LogPath(p.basePath))
	if err != nil {
		return err
	}
	logging.SetOutput(log.New(w, "", log.LstdFlags))
	p.logFile = closer
	return nil
}

func (p *project) close() {
	if p.logFile != nil {
		logging.SetOutput(log.New(os.Stderr, "", log.LstdFlags))
		_ = p.logFile.Close()
		p.logFile = nil
	}
}

// provider opens the state provider. A fallback substitution is written to
// the audit log as well as logged.
func (p *project) provider(ctx context.Context) (*state.FallbackProvider, error) {
	prov, err := openProvider(ctx, p.cfg, p.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state provider: %w", err)
	}
	if prov.Fallback() {
		entry := state.AuditEntry{
			Time:   time.Now().UTC(),
			Kind:   state.AuditFallback,
			Detail: "primary provider " + p.cfg.State.Provider,
		}
		if reason := prov.Reason(); reason != nil {
			entry.Reason = reason.Error()
		}
		if err := state.NewAuditLog(state.AuditPath(p.basePath)).Record(entry); err != nil {
			p.logger.Warn("failed to write audit entry", "kind", entry.Kind, "error", err)
		}
	}
	return prov, nil
}

// backend builds the configured backend, registering this executable as
// the pre-tool-use hook where the backend supports it. The hook is pointed
// at the same config file as this process.
func (p *project) backend() (backend.Backend, error) {
	hook, err := os.Executable()
	if err != nil {
		p.logger.Warn("cannot locate executable, hook not registered", "error", err)
		hook = ""
	}
	return newBackend(p.cfg, backend.Options{
		HookBinary: hook,
		HookConfig: p.configPath,
		WorkDir:    p.workDir(),
		Logger:     p.logger,
	})
}

func (p *project) workDir() string {
	dir := p.cfg.WorkDir
	if dir == "" {
		dir = "."
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.basePath, dir)
	}
	return dir
}
