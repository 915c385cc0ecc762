package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for newtab-sync.
type Config struct {
	BaseDir   string           `toml:"base_dir"`
	LogDir    string           `toml:"log_dir"`
	StatePath string           `toml:"state_path"` // the new-tab state document this installation syncs
	Sync      SyncConfig       `toml:"sync"`
	Providers []ProviderConfig `toml:"providers"`
	History   HistoryConfig    `toml:"history"`
	Seal      SealConfig       `toml:"seal"`
}

// SyncConfig holds the orchestration settings: whether sync runs at all,
// the auto-sync schedule, how conflicts are resolved, and the retry budget
// for failed rounds.
type SyncConfig struct {
	Enabled            bool   `toml:"enabled"`
	AutoSync           bool   `toml:"auto_sync"`
	IntervalMinutes    int    `toml:"interval_minutes"`
	ActiveProvider     string `toml:"active_provider"`
	ConflictResolution string `toml:"conflict_resolution"` // "latest" (default), "merge", or "manual"
	RetryAttempts      int    `toml:"retry_attempts"`
	RetryDelaySeconds  int    `toml:"retry_delay_seconds"`
}

// SealConfig holds paths to the age key pair used to seal provider
// credentials at rest. Sealing is optional; it is active once the key
// pair has been generated.
type SealConfig struct {
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ProviderConfig represents configuration for a sync storage backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ProviderConfig struct {
	Type string `toml:"type"` // "webdav", "local", or "s3"
	Name string `toml:"name"`

	// Shared fields
	Compress bool `toml:"compress,omitempty"`

	// WebDAV-specific fields (only used when Type == "webdav")
	URL               string `toml:"url,omitempty"`
	Username          string `toml:"username,omitempty"`
	Password          string `toml:"password,omitempty"` // sealed when a seal key pair exists
	Token             string `toml:"token,omitempty"`    // sealed when a seal key pair exists
	Folder            string `toml:"folder,omitempty"`
	TimeoutSeconds    int    `toml:"timeout_seconds,omitempty"`
	MaxRetries        int    `toml:"max_retries,omitempty"`
	RetryDelaySeconds int    `toml:"retry_delay_seconds,omitempty"`

	// Local-specific fields (only used when Type == "local")
	Dir string `toml:"dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"` // sealed when a seal key pair exists
	S3PathStyle       bool   `toml:"s3_path_style,omitempty"`
}

// HistoryConfig represents configuration for the operation history store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a new Config with defaults rooted under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		StatePath: filepath.Join(baseDir, "state.json"),
		Sync: SyncConfig{
			Enabled:            true,
			IntervalMinutes:    30,
			ConflictResolution: "latest",
			RetryAttempts:      3,
			RetryDelaySeconds:  5,
		},
		History: HistoryConfig{
			Type:    "sqlite",
			DataDir: baseDir,
		},
		Seal: SealConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "newtab-sync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "newtab-sync.key"),
		},
	}
}

// FindProvider returns the provider entry with the given name.
func (c *Config) FindProvider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// Active resolves the active provider entry. When sync.active_provider is
// unset and exactly one provider is configured, that provider is used.
func (c *Config) Active() (*ProviderConfig, error) {
	if c.Sync.ActiveProvider == "" {
		if len(c.Providers) == 1 {
			return &c.Providers[0], nil
		}
		return nil, fmt.Errorf("no active provider selected")
	}
	p, ok := c.FindProvider(c.Sync.ActiveProvider)
	if !ok {
		return nil, fmt.Errorf("active provider %q is not configured", c.Sync.ActiveProvider)
	}
	return p, nil
}

// Validate checks the configuration for inconsistencies that would only
// surface later as confusing runtime errors.
func (c *Config) Validate() error {
	switch c.Sync.ConflictResolution {
	case "", "latest", "merge", "manual":
	default:
		return fmt.Errorf("invalid conflict_resolution %q: must be latest, merge or manual", c.Sync.ConflictResolution)
	}
	if c.Sync.IntervalMinutes < 0 {
		return fmt.Errorf("interval_minutes must not be negative")
	}
	if c.Sync.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must not be negative")
	}
	if c.Sync.RetryDelaySeconds < 0 {
		return fmt.Errorf("retry_delay_seconds must not be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		if err := p.validate(); err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
	}

	if c.Sync.ActiveProvider != "" && !seen[c.Sync.ActiveProvider] {
		return fmt.Errorf("active provider %q is not configured", c.Sync.ActiveProvider)
	}

	switch c.History.Type {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid history type %q: must be sqlite or memory", c.History.Type)
	}
	return nil
}

func (p *ProviderConfig) validate() error {
	switch p.Type {
	case "webdav":
		if p.URL == "" {
			return fmt.Errorf("webdav provider requires a url")
		}
		if p.Token != "" && p.Username != "" {
			return fmt.Errorf("configure either username/password or a bearer token, not both")
		}
	case "local":
		if p.Dir == "" {
			return fmt.Errorf("local provider requires a dir")
		}
	case "s3":
		if p.S3Bucket == "" {
			return fmt.Errorf("s3 provider requires a bucket")
		}
	default:
		return fmt.Errorf("unknown provider type %q", p.Type)
	}
	return nil
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

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
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

// Save writes a Config back to the specified path. Commands that mutate
// configuration (adding providers, changing sync settings) persist through
// this.
func Save(path string, cfg *Config) error {
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
