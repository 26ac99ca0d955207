package app

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/db"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppRateLimit      int           `envconfig:"APP_RATE_LIMIT" default:"300"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Nested keys come from field names (DATABASE_HOST, MAILER_CONFIG, ...).
	// An envconfig tag on a nested field would also match the bare name.
	Database     DatabaseConfig
	Security     SecurityConfig
	Localization LocalizationConfig
	Files        FilesConfig
	Mailer       MailerConfig

	CacheRedis string        `envconfig:"CACHE_REDIS" default:"redis://127.0.0.1:6379/1"`
	CacheTTL   time.Duration `envconfig:"CACHE_TTL" default:"15m"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"5"`
}

// DatabaseConfig configures the connection pool.
type DatabaseConfig struct {
	Host     string        `split_words:"true" default:"127.0.0.1"`
	Port     int           `split_words:"true" default:"5432"`
	Database string        `split_words:"true" default:"muistot"`
	User     string        `split_words:"true" default:"muistot"`
	Password string        `split_words:"true"`
	UseSSL   bool          `split_words:"true" default:"false"`
	Rollback bool          `split_words:"true" default:"false"`
	Driver   string        `split_words:"true" default:"pgx"`
	Workers  int           `split_words:"true" default:"1"`
	CPW      int           `split_words:"true" default:"4"`
	MaxWait  time.Duration `split_words:"true" default:"5s"`
}

// Pool converts the settings to a pool configuration.
func (d DatabaseConfig) Pool() db.Config {
	return db.Config{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
		UseSSL:   d.UseSSL,
		Rollback: d.Rollback,
		Driver:   d.Driver,
		Workers:  d.Workers,
		CPW:      d.CPW,
		MaxWait:  d.MaxWait,
	}
}

// SecurityConfig configures passwords, sessions and account creation.
type SecurityConfig struct {
	BcryptCost        int               `split_words:"true" default:"12"`
	AutoPublish       bool              `split_words:"true" default:"false"`
	Oauth             map[string]string `split_words:"true"`
	SessionRedis      string            `split_words:"true" default:"redis://127.0.0.1:6379/0"`
	SessionLifetime   time.Duration     `split_words:"true" default:"16h"`
	SessionTokenBytes int               `split_words:"true" default:"32"`
	NamegenURL        string            `split_words:"true"`
}

// LocalizationConfig lists the accepted content languages.
type LocalizationConfig struct {
	Default   string   `split_words:"true" default:"fi"`
	Supported []string `split_words:"true" default:"fi,en,se"`
}

// FilesConfig configures uploaded file storage.
type FilesConfig struct {
	Location         string   `split_words:"true" default:"/files"`
	AllowAnonymous   bool     `split_words:"true" default:"false"`
	AllowedFiletypes []string `split_words:"true" default:"image/jpeg,image/png"`
}

// MailerConfig names the mail backend and its options.
type MailerConfig struct {
	Name   string            `split_words:"true" default:"log"`
	Config map[string]string `split_words:"true"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Workers < 1 {
		errs = append(errs, fmt.Errorf("database workers must be at least 1, got %d", c.Database.Workers))
	}
	if c.Database.CPW < 1 {
		errs = append(errs, fmt.Errorf("database cpw must be at least 1, got %d", c.Database.CPW))
	}
	if c.Database.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("database max wait must be positive, got %s", c.Database.MaxWait))
	}
	if !slices.Contains(c.Localization.Supported, c.Localization.Default) {
		errs = append(errs, fmt.Errorf("default language %q is not in %v", c.Localization.Default, c.Localization.Supported))
	}
	if c.Security.SessionTokenBytes < shared.MinTokenBytes {
		errs = append(errs, fmt.Errorf("session token bytes must be at least %d, got %d", shared.MinTokenBytes, c.Security.SessionTokenBytes))
	}
	if c.Security.SessionLifetime <= 0 {
		errs = append(errs, errors.New("session lifetime must be positive"))
	}
	if c.Mailer.Name == "" {
		errs = append(errs, errors.New("mailer name must be provided"))
	}
	return errors.Join(errs...)
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
