// Package config loads the kernel's configuration via chu: file first,
// then LLMSPELL_-prefixed environment variables on top. CLI flags take
// precedence over both; cmd/kernel uses the loaded values as its flag
// defaults, so a flag given on the command line wins.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

// EnvPrefix is the kernel's environment-variable prefix:
// LLMSPELL_DEFAULT_ENGINE, LLMSPELL_SCRIPT_TIMEOUT,
// LLMSPELL_ENABLE_STREAMING, LLMSPELL_ALLOW_FILE_ACCESS,
// LLMSPELL_MAX_MEMORY_MB, plus provider keys by convention.
const EnvPrefix = "LLMSPELL_"

// Config is the kernel's top-level configuration.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Engine Engine `cfg:"engine"`

	// Providers is a map of named provider configurations, keyed by the
	// name scripts and the pool will look the provider up by.
	Providers map[string]ProviderConfig `cfg:"providers"`

	Storage Storage `cfg:"storage"`
	Kernel  Kernel  `cfg:"kernel"`
	Web     Web     `cfg:"web"`

	// SMTP, if set, enables the builtin email tool.
	SMTP *SMTP `cfg:"smtp"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// Web configures the optional HTTP front-end gateway; the web
// subcommand stands it up.
type Web struct {
	Host     string `cfg:"host" default:"127.0.0.1"`
	Port     string `cfg:"port" default:"9600"`
	BasePath string `cfg:"base_path"`

	// AdminToken protects token management and, when set, execution.
	AdminToken string `cfg:"admin_token" log:"-"`

	// PIDFile coordinates web start/stop/status across invocations.
	PIDFile string `cfg:"pid_file" default:"/tmp/llmspell-kernel-web.pid"`
}

// SMTP is the mail-server half of the builtin email tool's
// configuration; per-call fields arrive as tool arguments.
type SMTP struct {
	Host               string `cfg:"host"`
	Port               int    `cfg:"port"`
	Username           string `cfg:"username"`
	Password           string `cfg:"password" log:"-"`
	From               string `cfg:"from"`
	TLS                bool   `cfg:"tls"`
	NoTLS              bool   `cfg:"no_tls"`
	InsecureSkipVerify bool   `cfg:"insecure_skip_verify"`
}

// Engine configures default script-engine behavior.
type Engine struct {
	// Default selects which engine handles a script when --engine is
	// omitted: "lua" (primary), "js" or "python" (placeholders).
	Default string `cfg:"default_engine" default:"lua"`

	// ScriptTimeout bounds a single execute_request; zero disables the
	// bound (not recommended outside tests).
	ScriptTimeout time.Duration `cfg:"script_timeout" default:"5m"`

	EnableStreaming bool `cfg:"enable_streaming" default:"true"`
	AllowFileAccess bool `cfg:"allow_file_access" default:"false"`

	// MaxMemoryMB is advisory: the Lua/JS VMs don't enforce a hard
	// ceiling and nothing in the kernel checks it; scripts can read it
	// through the Config global.
	MaxMemoryMB int `cfg:"max_memory_mb" default:"512"`
}

// Kernel configures the five-channel server and its deployment mode.
type Kernel struct {
	// BasePort is the first of five consecutive ports allocated at
	// startup (shell, iopub, stdin, control, heartbeat).
	BasePort int `cfg:"base_port" default:"9555"`
	IP       string `cfg:"ip" default:"127.0.0.1"`

	// ConnectionDir overrides the default ~/.llmspell/kernels directory
	// where the connection file is written.
	ConnectionDir string `cfg:"connection_dir"`

	MaxClients int `cfg:"max_clients" default:"16"`

	// Daemon enables service-mode: a cron scheduler (hardloop) runs
	// scripts on a schedule, each producing an isolated session.
	Daemon bool `cfg:"daemon"`

	// Alan, if set, enables distributed coordination (leader election
	// for the daemon cron loop) across multiple kernel instances via UDP
	// peer discovery.
	Alan *alan.Config `cfg:"alan"`

	// ScheduledScripts lists the scripts daemon mode runs on a cron
	// schedule, each firing producing an isolated session.
	ScheduledScripts []ScheduledScript `cfg:"scheduled_scripts"`

	PIDFile string `cfg:"pid_file"`
}

// ScheduledScript is one daemon-mode cron entry.
type ScheduledScript struct {
	Name string            `cfg:"name"`
	Spec string            `cfg:"spec"` // cron spec, optionally "CRON_TZ=<tz> <spec>"
	Code string            `cfg:"code"`
	Args map[string]string `cfg:"args"`
}

// Storage selects and configures the storage backend.
type Storage struct {
	Backend string `cfg:"backend" default:"memory"` // "memory" | "sqlite" | "postgres"

	Postgres *StoragePostgres `cfg:"postgres"`
	SQLite   *StorageSQLite   `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption at rest for
	// Sensitive-class state entries.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StoragePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	MilvusAddr string `cfg:"milvus_addr"`
	MilvusDim  int    `cfg:"milvus_dim" default:"1536"`

	Migrate Migrate `cfg:"migrate"`
}

type StorageSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource" default:"file::memory:?cache=shared"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

// ProviderConfig describes a single LLM provider configuration, the
// uniform completion/embedding capability's configuration surface.
type ProviderConfig struct {
	// Type selects the adapter: "anthropic", "openai", "gemini",
	// "vertex", "ollama".
	Type string `cfg:"type" json:"type"`

	APIKey  string `cfg:"api_key" json:"api_key" log:"-"`
	BaseURL string `cfg:"base_url" json:"base_url"`
	Model   string `cfg:"model" json:"model"`

	// EmbeddingModel names the model Embed() uses; defaults per adapter
	// when empty.
	EmbeddingModel string `cfg:"embedding_model" json:"embedding_model"`

	ExtraHeaders map[string]string `cfg:"extra_headers" json:"extra_headers"`

	AuthType string `cfg:"auth_type" json:"auth_type"`
	Proxy    string `cfg:"proxy" json:"proxy"`

	InsecureSkipVerify bool `cfg:"insecure_skip_verify" json:"insecure_skip_verify"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix(EnvPrefix)))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
