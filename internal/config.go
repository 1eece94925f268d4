package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Library   LibraryConfig     `yaml:"library"`
	Data      DataConfig        `yaml:"data"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Migration MigrationConfig   `yaml:"migration"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Library.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// Resolve turns every configured path absolute and derives the settings
// database path from the data directory when it is not set.
func (c *Config) Resolve() error {
	var err error
	if c.Library.Root, err = filepath.Abs(c.Library.Root); err != nil {
		return fmt.Errorf("library root: %w", err)
	}
	if c.Data.Dir, err = filepath.Abs(c.Data.Dir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = filepath.Join(c.Data.Dir, "settings.db")
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// LibraryConfig describes the document library the watcher follows.
type LibraryConfig struct {
	Root       string        `yaml:"root"`
	Watch      bool          `yaml:"watch"`
	Extensions []string      `yaml:"extensions"`
	PairWindow time.Duration `yaml:"pair_window"`
}

// Validate validates the library configuration.
func (c *LibraryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.PairWindow, validation.Min(time.Duration(0))),
	)
}

// DataConfig holds the application data directory. The legacy store and
// the general chat store live below it.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the data configuration.
func (c *DataConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// GeneralChatsPath returns the store for chats without a document.
func (c *DataConfig) GeneralChatsPath() string {
	return filepath.Join(c.Dir, "general_chats.json")
}

// SQLiteConfig holds the settings database path. Empty means
// <data.dir>/settings.db.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MigrationConfig controls the legacy storage migration at startup.
type MigrationConfig struct {
	// AutoConsent runs the migration without asking. When false, serve
	// leaves the legacy store untouched until "migrate" is run.
	AutoConsent bool `yaml:"auto_consent"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Library: LibraryConfig{
			Root:  "./library",
			Watch: true,
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
