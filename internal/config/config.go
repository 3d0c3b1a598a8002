// The application's root configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for the entire application. It is
// loaded once in the root command and passed explicitly to each component's
// constructor; there is no package-level config state.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Store    StoreConfig    `mapstructure:"store"`
	Network  NetworkConfig  `mapstructure:"network"`
	Session  SessionConfig  `mapstructure:"session"`
	Humanize HumanizeConfig `mapstructure:"humanize"`
	Solver   SolverConfig   `mapstructure:"solver"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	// Backend is one of "file", "postgres", "redis".
	Backend  string `mapstructure:"backend"`
	FilePath string `mapstructure:"file_path"`
	Postgres string `mapstructure:"postgres_url"`
	RedisURL string `mapstructure:"redis_url"`
}

// NetworkConfig holds settings for the network identity manager.
type NetworkConfig struct {
	// GeoProvider is "http" (JSON lookup service) or "maxmind" (local database).
	GeoProvider   string        `mapstructure:"geo_provider"`
	GeoLookupURL  string        `mapstructure:"geo_lookup_url"`
	MaxMindDBPath string        `mapstructure:"maxmind_db_path"`
	IPEchoURL     string        `mapstructure:"ip_echo_url"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
	MaxTravelKmh  float64       `mapstructure:"max_travel_kmh"`
	CooldownFloor time.Duration `mapstructure:"cooldown_floor"`
	CooldownPoll  time.Duration `mapstructure:"cooldown_poll"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	Reset         ResetConfig   `mapstructure:"reset"`
}

// ResetConfig describes the identity-reset integration.
type ResetConfig struct {
	// Device is one of "router", "lte", "webhook", or empty when no reset
	// integration is configured.
	Device           string        `mapstructure:"device"`
	RouterURL        string        `mapstructure:"router_url"`
	WebhookURL       string        `mapstructure:"webhook_url"`
	WebhookToken     string        `mapstructure:"webhook_token"`
	PropagationDelay time.Duration `mapstructure:"propagation_delay"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// SessionConfig holds the trust model and login backoff parameters.
type SessionConfig struct {
	TrustGainPerSuccess int           `mapstructure:"trust_gain_per_success"`
	TrustLossPerFailure int           `mapstructure:"trust_loss_per_failure"`
	BaseLoginCooldown   time.Duration `mapstructure:"base_login_cooldown"`
	CooldownMultiplier  float64       `mapstructure:"cooldown_multiplier"`
	MaxLoginCooldown    time.Duration `mapstructure:"max_login_cooldown"`
	FailureWindow       time.Duration `mapstructure:"failure_window"`
	SessionTimeout      time.Duration `mapstructure:"session_timeout"`
	AttemptHistorySize  int           `mapstructure:"attempt_history_size"`
	LoginCooldownPoll   time.Duration `mapstructure:"login_cooldown_poll"`
	LogoutBeforeRotate  bool          `mapstructure:"logout_before_rotate"`
	LogoutURL           string        `mapstructure:"logout_url"`
	LogoutSelector      string        `mapstructure:"logout_selector"`
}

// HumanizeConfig holds the statistical parameters of the humanizer. Values are
// milliseconds unless noted. The struct is an immutable configuration value and
// is only ever replaced wholesale.
type HumanizeConfig struct {
	ActionDelayMean   float64 `mapstructure:"action_delay_mean"`
	ActionDelayStdDev float64 `mapstructure:"action_delay_std_dev"`
	ActionDelayMin    float64 `mapstructure:"action_delay_min"`
	ActionDelayMax    float64 `mapstructure:"action_delay_max"`

	TypingDelayMean   float64 `mapstructure:"typing_delay_mean"`
	TypingDelayStdDev float64 `mapstructure:"typing_delay_std_dev"`
	TypingDelayMin    float64 `mapstructure:"typing_delay_min"`
	TypingDelayMax    float64 `mapstructure:"typing_delay_max"`

	ThinkingPauseChance float64 `mapstructure:"thinking_pause_chance"`
	ThinkingPauseMean   float64 `mapstructure:"thinking_pause_mean"`
	ThinkingPauseStdDev float64 `mapstructure:"thinking_pause_std_dev"`

	TypoRate float64 `mapstructure:"typo_rate"`

	// MouseSpeed is apparent cursor speed in pixels per second.
	MouseSpeedMean     float64 `mapstructure:"mouse_speed_mean"`
	MouseSpeedStdDev   float64 `mapstructure:"mouse_speed_std_dev"`
	WobbleAmplitude    float64 `mapstructure:"wobble_amplitude"`
	OvershootChance    float64 `mapstructure:"overshoot_chance"`
	ScrollAmountMean   float64 `mapstructure:"scroll_amount_mean"`
	ScrollAmountStdDev float64 `mapstructure:"scroll_amount_std_dev"`
}

// SolverConfig holds the challenge-solve pipeline settings.
type SolverConfig struct {
	// ServiceURL is the external solving service. Empty disables solving; the
	// pipeline then goes straight to the fallback.
	ServiceURL string `mapstructure:"service_url"`
	APIKey     string `mapstructure:"api_key"`

	DetectionTimeout  time.Duration `mapstructure:"detection_timeout"`
	SolverTimeout     time.Duration `mapstructure:"solver_timeout"`
	SubmissionTimeout time.Duration `mapstructure:"submission_timeout"`
	MinConfidence     float64       `mapstructure:"min_confidence"`
	FallbackEnabled   bool          `mapstructure:"fallback_enabled"`
	// FallbackChance governs the probabilistic "cannot solve" click when no
	// challenge was detected at all.
	FallbackChance float64 `mapstructure:"fallback_chance"`
}

// BrowserConfig holds the browser process settings for the chromedp driver.
type BrowserConfig struct {
	Headless        bool   `mapstructure:"headless"`
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors"`
	ProxyAddress    string `mapstructure:"proxy_address"`
	UserAgent       string `mapstructure:"user_agent"`
}

// EngineConfig holds settings for the outer driver loop.
type EngineConfig struct {
	IdentityCheckInterval time.Duration `mapstructure:"identity_check_interval"`
	Accounts              []string      `mapstructure:"accounts"`
	Service               string        `mapstructure:"service"`
}

// SetDefaults registers every default value on the given viper instance.
// Defaults mirror the reference policy: commercial-aviation travel speed, a
// 15 minute cooldown floor, and the documented humanizer means.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "veilcore")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.file_path", "veilcore-state")

	v.SetDefault("network.geo_provider", "http")
	v.SetDefault("network.geo_lookup_url", "https://ipapi.co/json/")
	v.SetDefault("network.ip_echo_url", "https://api.ipify.org")
	v.SetDefault("network.lookup_timeout", 15*time.Second)
	v.SetDefault("network.max_travel_kmh", 800.0)
	v.SetDefault("network.cooldown_floor", 15*time.Minute)
	v.SetDefault("network.cooldown_poll", 10*time.Second)
	v.SetDefault("network.history_limit", 200)
	v.SetDefault("network.reset.propagation_delay", 30*time.Second)
	v.SetDefault("network.reset.request_timeout", 20*time.Second)

	v.SetDefault("session.trust_gain_per_success", 10)
	v.SetDefault("session.trust_loss_per_failure", 25)
	v.SetDefault("session.base_login_cooldown", time.Minute)
	v.SetDefault("session.cooldown_multiplier", 2.0)
	v.SetDefault("session.max_login_cooldown", 6*time.Hour)
	v.SetDefault("session.failure_window", 24*time.Hour)
	v.SetDefault("session.session_timeout", 12*time.Hour)
	v.SetDefault("session.attempt_history_size", 100)
	v.SetDefault("session.login_cooldown_poll", 5*time.Second)
	v.SetDefault("session.logout_before_rotate", true)

	v.SetDefault("humanize.action_delay_mean", 2500.0)
	v.SetDefault("humanize.action_delay_std_dev", 800.0)
	v.SetDefault("humanize.action_delay_min", 800.0)
	v.SetDefault("humanize.action_delay_max", 8000.0)
	v.SetDefault("humanize.typing_delay_mean", 120.0)
	v.SetDefault("humanize.typing_delay_std_dev", 40.0)
	v.SetDefault("humanize.typing_delay_min", 50.0)
	v.SetDefault("humanize.typing_delay_max", 400.0)
	v.SetDefault("humanize.thinking_pause_chance", 0.12)
	v.SetDefault("humanize.thinking_pause_mean", 800.0)
	v.SetDefault("humanize.thinking_pause_std_dev", 300.0)
	v.SetDefault("humanize.typo_rate", 0.03)
	v.SetDefault("humanize.mouse_speed_mean", 1100.0)
	v.SetDefault("humanize.mouse_speed_std_dev", 300.0)
	v.SetDefault("humanize.wobble_amplitude", 1.5)
	v.SetDefault("humanize.overshoot_chance", 0.18)
	v.SetDefault("humanize.scroll_amount_mean", 420.0)
	v.SetDefault("humanize.scroll_amount_std_dev", 120.0)

	v.SetDefault("solver.detection_timeout", 120*time.Second)
	v.SetDefault("solver.solver_timeout", 30*time.Second)
	v.SetDefault("solver.submission_timeout", 30*time.Second)
	v.SetDefault("solver.min_confidence", 0.6)
	v.SetDefault("solver.fallback_enabled", true)
	v.SetDefault("solver.fallback_chance", 0.25)

	v.SetDefault("browser.headless", true)

	v.SetDefault("engine.identity_check_interval", 5*time.Minute)
}

// Load unmarshals the viper state into a fresh Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "postgres", "redis":
	default:
		return fmt.Errorf("store.backend must be one of file, postgres, redis; got %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.Postgres == "" {
		return fmt.Errorf("store.postgres_url is required for the postgres backend")
	}
	if c.Store.Backend == "redis" && c.Store.RedisURL == "" {
		return fmt.Errorf("store.redis_url is required for the redis backend")
	}

	switch c.Network.GeoProvider {
	case "http":
		if c.Network.GeoLookupURL == "" {
			return fmt.Errorf("network.geo_lookup_url is required for the http geo provider")
		}
	case "maxmind":
		if c.Network.MaxMindDBPath == "" {
			return fmt.Errorf("network.maxmind_db_path is required for the maxmind geo provider")
		}
	default:
		return fmt.Errorf("network.geo_provider must be http or maxmind; got %q", c.Network.GeoProvider)
	}
	if c.Network.MaxTravelKmh <= 0 {
		return fmt.Errorf("network.max_travel_kmh must be positive")
	}
	if c.Network.CooldownFloor <= 0 {
		return fmt.Errorf("network.cooldown_floor must be positive")
	}

	if c.Session.CooldownMultiplier < 1.0 {
		return fmt.Errorf("session.cooldown_multiplier must be >= 1.0")
	}
	if c.Session.AttemptHistorySize <= 0 {
		return fmt.Errorf("session.attempt_history_size must be positive")
	}

	if c.Solver.MinConfidence < 0 || c.Solver.MinConfidence > 1 {
		return fmt.Errorf("solver.min_confidence must be within [0, 1]")
	}
	if c.Humanize.TypoRate < 0 || c.Humanize.TypoRate > 1 {
		return fmt.Errorf("humanize.typo_rate must be within [0, 1]")
	}
	if c.Humanize.ActionDelayMin > c.Humanize.ActionDelayMax {
		return fmt.Errorf("humanize.action_delay_min exceeds humanize.action_delay_max")
	}
	return nil
}
