package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DirName is the per-project directory holding config, state and logs.
const DirName = ".autocoder"

// Default values for Config.
const (
	DefaultBackend             = BackendClaudeCLI
	DefaultModel               = "claude-sonnet-4-5"
	DefaultMaxTokens           = 8192
	DefaultMaxTurnsPerTask     = 20
	DefaultMaxTasksPerSession  = 10
	DefaultRateLimitRPM        = 10
	DefaultCostLimitPerSession = 10.0
	DefaultLogLevel            = "info"
	DefaultMode                = ModeSupervised
	DefaultTimeoutMinutes      = 30.0
	DefaultAction              = ActionPause
	DefaultMaxAttempts         = 4
	DefaultMinIntervalSeconds  = 60
	DefaultMaxPerWindow        = 5

	DefaultTrackerTokenEnv = "AUTOCODER_TRACKER_TOKEN"
	DefaultAnthropicKeyEnv = "ANTHROPIC_API_KEY"
	DefaultOpenAIKeyEnv    = "OPENAI_API_KEY"
	DefaultSpriteTokenEnv  = "SPRITE_TOKEN"
	DefaultWebhookURLEnv   = "AUTOCODER_WEBHOOK_URL"
)

// DefaultSecurity returns the command policy used when config.yaml has none.
func DefaultSecurity() Security {
	return Security{
		AllowedCommands: []string{
			"ls", "cat", "head", "tail", "wc", "grep", "find", "pwd", "echo",
			"mkdir", "cp", "mv", "rm", "touch", "chmod",
			"git", "go", "gofmt", "make", "npm", "npx", "node", "pnpm", "yarn",
			"python", "python3", "pip", "pytest", "cargo",
		},
		BlockedCommands: []string{
			"sudo", "su", "shutdown", "reboot", "mkfs", "dd", "kill", "killall", "pkill",
		},
		BlockedPatterns: []string{
			`rm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(/|~|\$HOME)(\s|$|\*)`,
			`rm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+\.\.?(\s|/?$)`,
			`(?i)\bDROP\s+(TABLE|DATABASE|SCHEMA)\b`,
			`(?i)\bTRUNCATE\s+TABLE\b`,
			`(?i)\bDELETE\s+FROM\s+\w+\s*(;|$)`,
			`git\s+push\s+.*--force`,
			`:\(\)\s*\{\s*:\|:&\s*\};:`,
			`>\s*/dev/sd[a-z]`,
			`curl\s+[^|]*\|\s*(ba)?sh`,
		},
		AllowedPaths: []string{"."},
		BlockedPaths: []string{"/etc", "/usr", "/bin", "/sbin", "/boot", "/var", "~/.ssh", "~/.aws", "~/.config"},
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Backend:             DefaultBackend,
		Model:               DefaultModel,
		MaxTokens:           DefaultMaxTokens,
		MaxTurnsPerTask:     DefaultMaxTurnsPerTask,
		MaxTasksPerSession:  DefaultMaxTasksPerSession,
		RateLimitRPM:        DefaultRateLimitRPM,
		CostLimitPerSession: DefaultCostLimitPerSession,
		LogLevel:            DefaultLogLevel,
		Mode:                DefaultMode,
		WorkDir:             ".",
		Approval: Approval{
			TimeoutMinutes: DefaultTimeoutMinutes,
			DefaultAction:  DefaultAction,
			Notification: Notification{
				Channels:           []string{ChannelTerminal, ChannelFile},
				WebhookURLEnv:      DefaultWebhookURLEnv,
				MinIntervalSeconds: DefaultMinIntervalSeconds,
				MaxPerWindow:       DefaultMaxPerWindow,
			},
		},
		State: StateConfig{
			Provider:    ProviderFile,
			Fallback:    true,
			TokenEnv:    DefaultTrackerTokenEnv,
			SQLitePath:  filepath.Join(DirName, "state.db"),
			MaxAttempts: DefaultMaxAttempts,
		},
		Backends: BackendsConfig{
			AnthropicKeyEnv:   DefaultAnthropicKeyEnv,
			OpenAIKeyEnv:      DefaultOpenAIKeyEnv,
			SpriteTokenEnv:    DefaultSpriteTokenEnv,
			ClaudePath:        "claude",
			InputCostPerMTok:  3.0,
			OutputCostPerMTok: 15.0,
		},
		Security: DefaultSecurity(),
	}
}

// Preset returns the checkpoint arming for a mode.
func Preset(mode string) ModePreset {
	switch mode {
	case ModeInteractive:
		return ModePreset{
			TurnInterval:  25,
			BeforeNewTask: true,
			AfterPhase:    true,
			OnRegression:  true,
			OnBlocker:     true,
			OnUncertainty: true,
		}
	case ModeSupervised:
		return ModePreset{
			TurnInterval:  50,
			BeforeNewTask: true,
			OnRegression:  true,
			OnBlocker:     true,
		}
	default:
		return ModePreset{}
	}
}

// EffectivePreset applies config overrides on top of the mode preset.
func (c *Config) EffectivePreset() ModePreset {
	p := Preset(c.Mode)
	cp := c.Checkpoints
	if cp.TurnInterval > 0 {
		p.TurnInterval = cp.TurnInterval
	}
	override := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	override(&p.BeforeNewTask, cp.BeforeNewTask)
	override(&p.AfterPhase, cp.AfterPhase)
	override(&p.OnRegression, cp.OnRegression)
	override(&p.OnBlocker, cp.OnBlocker)
	override(&p.OnUncertainty, cp.OnUncertainty)
	return p
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Path returns the default config file location for a project.
func Path(basePath string) string {
	return filepath.Join(basePath, DirName, "config.yaml")
}

// LoadConfig reads and parses .autocoder/config.yaml from the given base path.
// If the file doesn't exist, returns default config.
func LoadConfig(basePath string) (*Config, error) {
	return LoadConfigFile(basePath, Path(basePath))
}

// LoadConfigFile reads the config at path, applying defaults for missing
// fields and loading .autocoder/.env from basePath. A missing file yields
// the defaults; an explicitly named file must exist.
func LoadConfigFile(basePath, path string) (*Config, error) {
	if path == "" {
		path = Path(basePath)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) || path != Path(basePath) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// yaml.v3 replaces sequences, so a user list overrides the default list.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	env, err := LoadEnvFile(basePath)
	if err != nil {
		return nil, err
	}
	cfg.env = env

	return &cfg, nil
}

// Save writes the config as YAML.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	switch cfg.Backend {
	case BackendClaudeCLI, BackendSprite, BackendAnthropic, BackendOpenAI:
	default:
		return ValidationError{Field: "backend", Message: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
	if cfg.Model == "" {
		return ValidationError{Field: "model", Message: "required field is empty"}
	}
	if cfg.MaxTokens <= 0 {
		return ValidationError{Field: "max_tokens", Message: "must be positive"}
	}
	if cfg.MaxTurnsPerTask <= 0 {
		return ValidationError{Field: "max_turns_per_task", Message: "must be positive"}
	}
	if cfg.MaxTasksPerSession <= 0 {
		return ValidationError{Field: "max_tasks_per_session", Message: "must be positive"}
	}
	if cfg.RateLimitRPM < 0 {
		return ValidationError{Field: "rate_limit_rpm", Message: "must not be negative"}
	}
	if cfg.CostLimitPerSession < 0 {
		return ValidationError{Field: "cost_limit_per_session", Message: "must not be negative"}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ValidationError{Field: "log_level", Message: fmt.Sprintf("unknown level %q", cfg.LogLevel)}
	}
	switch cfg.Mode {
	case ModeAutonomous, ModeInteractive, ModeSupervised:
	default:
		return ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}
	if cfg.Checkpoints.TurnInterval < 0 {
		return ValidationError{Field: "checkpoints.turn_interval", Message: "must not be negative"}
	}
	if err := validateApproval(&cfg.Approval); err != nil {
		return err
	}
	if err := validateState(&cfg.State); err != nil {
		return err
	}
	return validateSecurity(&cfg.Security)
}

func validateApproval(a *Approval) error {
	if a.TimeoutMinutes < 0 {
		return ValidationError{Field: "approval.timeout_minutes", Message: "must not be negative"}
	}
	switch a.DefaultAction {
	case ActionPause, ActionContinue, ActionAbort:
	default:
		return ValidationError{Field: "approval.default_action", Message: fmt.Sprintf("unknown action %q", a.DefaultAction)}
	}
	for _, ch := range a.Notification.Channels {
		switch ch {
		case ChannelTerminal, ChannelFile, ChannelWebhook, ChannelDesktop:
		default:
			return ValidationError{Field: "approval.notification.channels", Message: fmt.Sprintf("unknown channel %q", ch)}
		}
	}
	if a.Notification.MinIntervalSeconds < 0 || a.Notification.MaxPerWindow < 0 {
		return ValidationError{Field: "approval.notification", Message: "rate limit values must not be negative"}
	}
	return nil
}

func validateState(s *StateConfig) error {
	switch s.Provider {
	case ProviderFile, ProviderSQLite:
	case ProviderRemote:
		if s.RemoteURL == "" {
			return ValidationError{Field: "state.remote_url", Message: "required when provider is remote"}
		}
	default:
		return ValidationError{Field: "state.provider", Message: fmt.Sprintf("unknown provider %q", s.Provider)}
	}
	if s.MaxAttempts <= 0 {
		return ValidationError{Field: "state.max_attempts", Message: "must be positive"}
	}
	return nil
}

func validateSecurity(s *Security) error {
	if len(s.AllowedCommands) == 0 {
		return ValidationError{Field: "security.allowed_commands", Message: "must not be empty"}
	}
	for _, p := range s.BlockedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return ValidationError{Field: "security.blocked_patterns", Message: fmt.Sprintf("invalid pattern %q: %v", p, err)}
		}
	}
	return nil
}

// ResolveSecret returns the value of the named variable, preferring
// .autocoder/.env over the process environment.
func (c *Config) ResolveSecret(name string) string {
	if name == "" {
		return ""
	}
	if v, ok := c.env[name]; ok && v != "" {
		return v
	}
	return os.Getenv(name)
}

// LoadEnvFile parses a .autocoder/.env file into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// Empty lines are ignored.
func LoadEnvFile(basePath string) (map[string]string, error) {
	envPath := filepath.Join(basePath, DirName, ".env")

	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx == -1 {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// Strip surrounding quotes (single or double)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
