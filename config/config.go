package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Transfer    TransferConfig    `yaml:"transfer"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// ProvisionerConfig defines how to reach the credential provisioning provider.
type ProvisionerConfig struct {
	BaseURL        string            `yaml:"base_url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// MonitorConfig holds the intervals and thresholds for the background loops.
type MonitorConfig struct {
	Enabled                   bool          `yaml:"enabled"`
	UsageCheckIntervalMinutes int           `yaml:"usage_check_interval_minutes"`
	CredentialSyncMinutes     int           `yaml:"credential_sync_interval_minutes"`
	ExpirySweepMinutes        int           `yaml:"expiry_sweep_interval_minutes"`
	ProviderSyncMinutes       int           `yaml:"provider_sync_interval_minutes"`
	LowDataThresholdMB        int64         `yaml:"low_data_threshold_mb"`
	UsageCheckInterval        time.Duration `yaml:"-"`
	CredentialSyncInterval    time.Duration `yaml:"-"`
	ExpirySweepInterval       time.Duration `yaml:"-"`
	ProviderSyncInterval      time.Duration `yaml:"-"`
}

// LedgerConfig holds quota ledger tuning.
//
// ConflictRetries is the number of times a lost conditional update is
// retried per allowance before the conflict is returned to the caller.
// There is deliberately no default backoff; 0 surfaces every conflict.
type LedgerConfig struct {
	ConflictRetries int `yaml:"conflict_retries"`
}

// TransferConfig bounds the pacing delay of the simulated chunked transfer.
type TransferConfig struct {
	MinChunkDelayMS int `yaml:"min_chunk_delay_ms"`
	MaxChunkDelayMS int `yaml:"max_chunk_delay_ms"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}

	if cfg.Provisioner.TimeoutSeconds <= 0 {
		cfg.Provisioner.TimeoutSeconds = 30
	}

	if cfg.Monitor.UsageCheckIntervalMinutes <= 0 {
		cfg.Monitor.UsageCheckIntervalMinutes = 5
	}
	if cfg.Monitor.CredentialSyncMinutes <= 0 {
		cfg.Monitor.CredentialSyncMinutes = 15
	}
	if cfg.Monitor.ExpirySweepMinutes <= 0 {
		cfg.Monitor.ExpirySweepMinutes = 60
	}
	if cfg.Monitor.ProviderSyncMinutes <= 0 {
		cfg.Monitor.ProviderSyncMinutes = 30
	}
	if cfg.Monitor.LowDataThresholdMB <= 0 {
		cfg.Monitor.LowDataThresholdMB = 100
	}
	cfg.Monitor.UsageCheckInterval = time.Duration(cfg.Monitor.UsageCheckIntervalMinutes) * time.Minute
	cfg.Monitor.CredentialSyncInterval = time.Duration(cfg.Monitor.CredentialSyncMinutes) * time.Minute
	cfg.Monitor.ExpirySweepInterval = time.Duration(cfg.Monitor.ExpirySweepMinutes) * time.Minute
	cfg.Monitor.ProviderSyncInterval = time.Duration(cfg.Monitor.ProviderSyncMinutes) * time.Minute

	if cfg.Ledger.ConflictRetries < 0 {
		cfg.Ledger.ConflictRetries = 0
	}

	if cfg.Transfer.MinChunkDelayMS <= 0 {
		cfg.Transfer.MinChunkDelayMS = 300
	}
	if cfg.Transfer.MaxChunkDelayMS < cfg.Transfer.MinChunkDelayMS {
		cfg.Transfer.MaxChunkDelayMS = 2000
	}
}
