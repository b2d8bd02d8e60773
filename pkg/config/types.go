package config

import (
	"os"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// AI providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderNoop       = "noop"
)

// ServerConfig holds the HTTP and WebSocket listener settings.
type ServerConfig struct {
	// Addr is the bind address, host:port.
	Addr string `yaml:"addr"`

	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`

	// AllowedWSOrigins lists extra origin patterns accepted on WebSocket
	// upgrades besides the request host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// AuthRequired rejects requests without a user identity header instead
	// of falling back to the anonymous owner. Verification itself happens
	// upstream; the service trusts the forwarded header.
	AuthRequired bool `yaml:"auth_required"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	// Backend is one of memory, bolt, postgres.
	Backend string `yaml:"backend"`

	// Path is the bolt database file.
	Path string `yaml:"path,omitempty"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds connection and pool settings for the postgres
// backend. The password normally arrives through a
// {{.WAYPLAN_DB_PASSWORD}} placeholder.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// AIConfig picks the primary text generation provider. The chain built at
// wiring time always appends the noop fallback.
type AIConfig struct {
	// Provider is the primary: openrouter, gemini, or noop.
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model,omitempty"`

	// Timeout bounds one provider call.
	Timeout time.Duration `yaml:"timeout"`

	// APIKeyEnv names the environment variable holding the credential.
	// Empty falls back to the provider's conventional variable.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// BaseURL points the provider at a compatible gateway.
	BaseURL string `yaml:"base_url,omitempty"`
}

// APIKey reads the provider credential from the configured environment
// variable.
func (c AIConfig) APIKey() string {
	env := c.APIKeyEnv
	if env == "" {
		switch c.Provider {
		case ProviderOpenRouter:
			env = "OPENROUTER_API_KEY"
		case ProviderGemini:
			env = "GEMINI_API_KEY"
		default:
			return ""
		}
	}
	return os.Getenv(env)
}

// EngineConfig tunes the change engine.
type EngineConfig struct {
	// DefaultRespectLocks fills the lock preference for change sets that
	// arrive without preferences. Pointer so an explicit false survives
	// the defaults merge.
	DefaultRespectLocks *bool `yaml:"default_respect_locks,omitempty"`
}

// RespectLocks resolves the default lock preference; unset means true.
func (c EngineConfig) RespectLocks() bool {
	if c.DefaultRespectLocks == nil {
		return true
	}
	return *c.DefaultRespectLocks
}

// RunnerConfig sizes the agent run pool.
type RunnerConfig struct {
	// Workers is the number of concurrent run executors.
	Workers int `yaml:"workers"`

	// QueueSize caps pending runs; submits beyond it are rejected.
	QueueSize int `yaml:"queue_size"`

	// RunTimeout bounds one agent run.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// RetentionConfig controls revision history retention.
type RetentionConfig struct {
	// MaxRevisions caps stored revisions per itinerary, pruned oldest
	// first after each apply. 0 keeps everything, which also keeps undo
	// able to reach version 1.
	MaxRevisions int `yaml:"max_revisions"`

	// SweepInterval is how often the background sweeper re-applies the
	// cap across all itineraries, catching documents whose history grew
	// while the cap was off or whose inline prune failed. 0 disables
	// the sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the built-in defaults: memory store, openrouter
// primary, two workers, unbounded history.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Path:    "wayplan.db",
			Postgres: PostgresConfig{
				Host:         "localhost",
				Port:         5432,
				User:         "wayplan",
				Database:     "wayplan",
				SSLMode:      "disable",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
		},
		AI: AIConfig{
			Provider: ProviderOpenRouter,
			Timeout:  30 * time.Second,
		},
		Runner: RunnerConfig{
			Workers:    2,
			QueueSize:  16,
			RunTimeout: 2 * time.Minute,
		},
	}
}
