package taxassist

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Desarso/taxassist/attachments"
	"github.com/Desarso/taxassist/stores"
	"github.com/joho/godotenv"
)

// DefaultConfigFile is read by LoadConfig when no path is given and the file
// exists in the working directory.
const DefaultConfigFile = "taxassist.toml"

// Duration decodes TOML strings such as "24h" or "300ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ModelConfig selects and tunes the completion provider.
type ModelConfig struct {
	Provider    string   `toml:"provider"` // "openai", "openrouter", "anthropic", "gemini", "scripted"
	Name        string   `toml:"name"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Temperature *float64 `toml:"temperature"`
	MaxTokens   *int     `toml:"max_tokens"`

	RPS        float64  `toml:"rps"`
	Burst      int      `toml:"burst"`
	Retries    int      `toml:"retries"`
	RetryDelay Duration `toml:"retry_delay"`
}

// AttachmentConfig controls document uploads.
type AttachmentConfig struct {
	Store     stores.StoreConfig `toml:"store"`
	MaxSizeMB int                `toml:"max_size_mb"`
	Retention Duration           `toml:"retention"`
	Schedule  string             `toml:"schedule"` // cron spec for the janitor, empty disables it
}

// Config holds everything the server and the terminal client need.
type Config struct {
	Addr          string             `toml:"addr"`
	TemplateHints bool               `toml:"template_hints"`
	Model         ModelConfig        `toml:"model"`
	History       stores.StoreConfig `toml:"history"`
	Attachments   AttachmentConfig   `toml:"attachments"`
}

// NewConfig returns a configuration with default values
func NewConfig() *Config {
	return &Config{
		Addr: ":8000",
		Model: ModelConfig{
			Provider:   "openai",
			Burst:      1,
			Retries:    3,
			RetryDelay: Duration{300 * time.Millisecond},
		},
		History: *stores.NewStoreConfig("file", "data/history"),
		Attachments: AttachmentConfig{
			Store:     *stores.NewStoreConfig("file", "data/attachments"),
			MaxSizeMB: attachments.MaxUploadSize >> 20,
			Retention: Duration{attachments.DefaultRetention},
			Schedule:  "@hourly",
		},
	}
}

// LoadConfig reads .env, then the TOML file at path (or DefaultConfigFile if
// present), then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := NewConfig()
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TAXASSIST_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(key string, fn func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str("TAXASSIST_ADDR", &c.Addr)
	str("TAXASSIST_PROVIDER", &c.Model.Provider)
	str("TAXASSIST_MODEL", &c.Model.Name)
	str("TAXASSIST_API_KEY", &c.Model.APIKey)
	str("TAXASSIST_BASE_URL", &c.Model.BaseURL)
	parse("TAXASSIST_RPS", func(v string) (err error) {
		c.Model.RPS, err = strconv.ParseFloat(v, 64)
		return
	})
	parse("TAXASSIST_BURST", func(v string) (err error) {
		c.Model.Burst, err = strconv.Atoi(v)
		return
	})
	parse("TAXASSIST_RETRIES", func(v string) (err error) {
		c.Model.Retries, err = strconv.Atoi(v)
		return
	})
	parse("TAXASSIST_TEMPLATE_HINTS", func(v string) (err error) {
		c.TemplateHints, err = strconv.ParseBool(v)
		return
	})

	str("TAXASSIST_HISTORY_STORE", &c.History.Type)
	str("TAXASSIST_HISTORY_DSN", &c.History.Connection)
	str("TAXASSIST_ATTACHMENT_STORE", &c.Attachments.Store.Type)
	str("TAXASSIST_ATTACHMENT_DSN", &c.Attachments.Store.Connection)
	parse("TAXASSIST_ATTACHMENT_RETENTION", func(v string) error {
		return c.Attachments.Retention.UnmarshalText([]byte(v))
	})

	for _, opt := range []string{"endpoint", "region", "access_key", "secret_key", "bucket", "use_ssl"} {
		if v, ok := lookup("TAXASSIST_S3_" + strings.ToUpper(opt)); ok && v != "" {
			c.Attachments.Store.WithOption(opt, v)
		}
	}

	return errors.Join(errs...)
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "openai", "openrouter", "anthropic", "gemini", "scripted":
	default:
		return fmt.Errorf("unsupported model provider %q", c.Model.Provider)
	}
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.Attachments.MaxSizeMB <= 0 {
		return errors.New("attachments.max_size_mb must be positive")
	}
	if c.Model.Retries < 1 {
		c.Model.Retries = 1
	}
	return nil
}

// WithAddr sets the listen address
func (c *Config) WithAddr(addr string) *Config {
	c.Addr = addr
	return c
}

// WithProvider selects the completion provider and model name
func (c *Config) WithProvider(provider, model string) *Config {
	c.Model.Provider = provider
	c.Model.Name = model
	return c
}

// WithTemplateHints toggles the worked example for income questions
func (c *Config) WithTemplateHints(enabled bool) *Config {
	c.TemplateHints = enabled
	return c
}

// WithHistoryStore sets the store type and connection for chat history
func (c *Config) WithHistoryStore(storeType, connection string) *Config {
	c.History = *stores.NewStoreConfig(storeType, connection)
	return c
}

// WithSQLiteHistory keeps chat history in a SQLite database
func (c *Config) WithSQLiteHistory(dbPath string) *Config {
	return c.WithHistoryStore("sqlite", dbPath)
}

// WithPostgresHistory keeps chat history in PostgreSQL
func (c *Config) WithPostgresHistory(host, user, password, dbname string, port int) *Config {
	return c.WithHistoryStore("postgres", stores.PostgresDSN(host, user, password, dbname, port))
}

// WithAttachmentStore sets where uploaded documents are kept
func (c *Config) WithAttachmentStore(store *stores.StoreConfig) *Config {
	if store != nil {
		c.Attachments.Store = *store
	}
	return c
}
