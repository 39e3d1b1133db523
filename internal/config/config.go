package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for simjur.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Database   DatabaseConfig   `toml:"database"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
	Session    SessionConfig    `toml:"session"`
	Notify     NotifyConfig     `toml:"notify"`
	Redis      RedisConfig      `toml:"redis"`
	Workflow   WorkflowConfig   `toml:"workflow"`
	Rollbar    RollbarConfig    `toml:"rollbar"`
}

// Duration is a time.Duration that reads and writes as "30m", "7d" style text.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	// time.ParseDuration has no day unit
	if n := len(s); n > 1 && s[n-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = time.Duration(days) * 24 * time.Hour
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address            string `toml:"address"`
	Debug              bool   `toml:"debug"`
	DisableRequestLogs bool   `toml:"disable_request_logs"`
	MaxUploadBytes     int64  `toml:"max_upload_bytes"` // defaults to 20MB
}

// AuthConfig holds token and login settings. The signing secret is never
// stored here; it comes from SIMJUR_SECRET_KEY.
type AuthConfig struct {
	TokenTTL      Duration `toml:"token_ttl"`
	RefreshWindow Duration `toml:"refresh_window"`
	LoginRate     float64  `toml:"login_rate"`  // attempts per second per client
	LoginBurst    int      `toml:"login_burst"` // burst size per client
	Revoker       string   `toml:"revoker"`     // "memory" (default) or "redis"
}

// DatabaseConfig represents configuration for the relational store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "postgres" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres; SIMJUR_DATABASE_DSN overrides
}

// VaultConfig represents configuration for the document vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type      string `toml:"type"` // "memory", "filesystem", "s3" or "gcs"
	Name      string `toml:"name"`
	Encrypted bool   `toml:"encrypted"` // seal payloads with the configured encryption keys

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores such as MinIO

	// GCS-specific fields (only used when Type == "gcs")
	GCSBucket string `toml:"gcs_bucket,omitempty"`
	GCSPrefix string `toml:"gcs_prefix,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for vault encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SessionConfig configures the client-side token keeper used by `simjur session`.
type SessionConfig struct {
	ServerURL  string   `toml:"server_url"`
	StatePath  string   `toml:"state_path"`
	Interval   Duration `toml:"interval"`
	Horizon    Duration `toml:"horizon"`
	MaxRetries int      `toml:"max_retries"`
}

// NotifyConfig configures notification fan-out beyond the in-app hub.
type NotifyConfig struct {
	Kafka    KafkaConfig    `toml:"kafka"`
	SendGrid SendGridConfig `toml:"sendgrid"`
}

// KafkaConfig enables the Kafka sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string `toml:"brokers"`
	Topic       string   `toml:"topic"`      // in-app notifications
	PushTopic   string   `toml:"push_topic"` // web push deliveries
	MaxAttempts int      `toml:"max_attempts"`
}

// SendGridConfig enables e-mail when the API key env var is set.
type SendGridConfig struct {
	FromName  string `toml:"from_name"`
	FromEmail string `toml:"from_email"`
}

// RedisConfig is used by the redis token revoker.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password,omitempty"`
	DB       int    `toml:"db"`
}

// WorkflowConfig holds approval workflow switches.
type WorkflowConfig struct {
	AllowResubmit bool `toml:"allow_resubmit"`
}

// RollbarConfig enables error reporting when Token is set.
type RollbarConfig struct {
	Token       string `toml:"token,omitempty"`
	Environment string `toml:"environment"`
}

// NewConfig creates a new Config with the provided values and defaults.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Server: ServerConfig{
			Address:        ":8080",
			MaxUploadBytes: 20 << 20,
		},
		Auth: AuthConfig{
			TokenTTL:      Duration{30 * time.Minute},
			RefreshWindow: Duration{7 * 24 * time.Hour},
			LoginRate:     0.2,
			LoginBurst:    5,
			Revoker:       "memory",
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "vault"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "simjur.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "simjur.key"),
		},
		Session: SessionConfig{
			ServerURL:  "http://localhost:8080",
			StatePath:  filepath.Join(baseDir, "session.toml"),
			Interval:   Duration{60 * time.Second},
			Horizon:    Duration{5 * time.Minute},
			MaxRetries: 3,
		},
		Notify: NotifyConfig{
			Kafka: KafkaConfig{
				Topic:     "simjur.notifications",
				PushTopic: "simjur.push",
			},
			SendGrid: SendGridConfig{
				FromName: "SIMJUR",
			},
		},
		Rollbar: RollbarConfig{
			Environment: "production",
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
