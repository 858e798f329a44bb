package config

// Config represents the .autocoder/config.yaml file.
type Config struct {
	ProjectName         string  `yaml:"project_name"`
	Backend             string  `yaml:"backend"`
	Model               string  `yaml:"model"`
	MaxTokens           int     `yaml:"max_tokens"`
	MaxTurnsPerTask     int     `yaml:"max_turns_per_task"`
	MaxTasksPerSession  int     `yaml:"max_tasks_per_session"`
	RateLimitRPM        int     `yaml:"rate_limit_rpm"`
	CostLimitPerSession float64 `yaml:"cost_limit_per_session"`
	LogLevel            string  `yaml:"log_level"`
	Mode                string  `yaml:"mode"`
	WorkDir             string  `yaml:"work_dir"`
	MetricsAddr         string  `yaml:"metrics_addr,omitempty"`

	Checkpoints Checkpoints    `yaml:"checkpoints"`
	Approval    Approval       `yaml:"approval"`
	State       StateConfig    `yaml:"state"`
	Backends    BackendsConfig `yaml:"backends"`
	Security    Security       `yaml:"security"`

	// env holds values from .autocoder/.env, consulted before the process
	// environment when resolving secrets.
	env map[string]string
}

// Checkpoints overrides the trigger arming of the selected mode.
// A nil flag means "use the mode default".
type Checkpoints struct {
	TurnInterval  int   `yaml:"turn_interval"`
	BeforeNewTask *bool `yaml:"before_new_task,omitempty"`
	AfterPhase    *bool `yaml:"after_phase,omitempty"`
	OnRegression  *bool `yaml:"on_regression,omitempty"`
	OnBlocker     *bool `yaml:"on_blocker,omitempty"`
	OnUncertainty *bool `yaml:"on_uncertainty,omitempty"`
}

// Approval configures how checkpoints are resolved.
type Approval struct {
	TimeoutMinutes float64      `yaml:"timeout_minutes"`
	DefaultAction  string       `yaml:"default_action"`
	Notification   Notification `yaml:"notification"`
}

// Notification configures the channels used for approvals and progress pushes.
type Notification struct {
	Channels           []string `yaml:"channels"`
	WebhookURLEnv      string   `yaml:"webhook_url_env"`
	MinIntervalSeconds int      `yaml:"min_interval_seconds"`
	MaxPerWindow       int      `yaml:"max_per_window"`
}

// StateConfig selects and configures the state provider.
type StateConfig struct {
	Provider    string `yaml:"provider"`
	Fallback    bool   `yaml:"fallback"`
	RemoteURL   string `yaml:"remote_url,omitempty"`
	TokenEnv    string `yaml:"token_env"`
	Team        string `yaml:"team,omitempty"`
	SQLitePath  string `yaml:"sqlite_path"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// BackendsConfig holds per-backend settings.
type BackendsConfig struct {
	AnthropicKeyEnv   string  `yaml:"anthropic_key_env"`
	OpenAIKeyEnv      string  `yaml:"openai_key_env"`
	SpriteTokenEnv    string  `yaml:"sprite_token_env"`
	SpriteName        string  `yaml:"sprite_name,omitempty"`
	ClaudePath        string  `yaml:"claude_path"`
	InputCostPerMTok  float64 `yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `yaml:"output_cost_per_mtok"`
}

// Security is the command policy applied to everything the agent proposes to run.
type Security struct {
	AllowedCommands []string `yaml:"allowed_commands"`
	BlockedCommands []string `yaml:"blocked_commands"`
	BlockedPatterns []string `yaml:"blocked_patterns"`
	AllowedPaths    []string `yaml:"allowed_paths"`
	BlockedPaths    []string `yaml:"blocked_paths"`
}

// Backend names.
const (
	BackendClaudeCLI = "claude-cli"
	BackendSprite    = "sprite"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

// Execution modes.
const (
	ModeAutonomous  = "autonomous"
	ModeInteractive = "interactive"
	ModeSupervised  = "supervised"
)

// Default actions applied when an approval request times out.
const (
	ActionPause    = "pause"
	ActionContinue = "continue"
	ActionAbort    = "abort"
)

// State provider names.
const (
	ProviderFile   = "file"
	ProviderRemote = "remote"
	ProviderSQLite = "sqlite"
)

// Notification channel names.
const (
	ChannelTerminal = "terminal"
	ChannelFile     = "file"
	ChannelWebhook  = "webhook"
	ChannelDesktop  = "desktop"
)

// ModePreset describes the checkpoint arming of an execution mode.
type ModePreset struct {
	TurnInterval  int
	BeforeNewTask bool
	AfterPhase    bool
	OnRegression  bool
	OnBlocker     bool
	OnUncertainty bool
}

// Permissions defines Claude Code permission rules.
type Permissions struct {
	Deny []string `json:"deny"`
}

// HookCommand is a single Claude Code hook invocation.
type HookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// HookMatcher binds hook commands to the tools they apply to.
type HookMatcher struct {
	Matcher string        `json:"matcher"`
	Hooks   []HookCommand `json:"hooks"`
}

// Settings represents a Claude Code .claude/settings.json file.
type Settings struct {
	Permissions Permissions              `json:"permissions"`
	Hooks       map[string][]HookMatcher `json:"hooks,omitempty"`
}
