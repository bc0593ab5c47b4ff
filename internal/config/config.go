package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ohlcvsync/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for ohlcvsync.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Postgres Postgres       `yaml:"postgres"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Universe UniverseConfig `yaml:"universe"`
	History  HistoryConfig  `yaml:"history"`
	Update   UpdateConfig   `yaml:"update"`
}

// Storage selects the persistence backend.
type Storage struct {
	Driver     string `yaml:"driver"` // "sqlite" or "postgres"
	SQLitePath string `yaml:"sqlite_path"`
	// ArchiveDir, when set, mirrors every persisted window into Parquet
	// files under this directory.
	ArchiveDir string `yaml:"archive_dir"`
}

// Postgres holds connection settings for the postgres driver.
type Postgres struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// UniverseConfig selects where today's ticker universe comes from.
type UniverseConfig struct {
	Source      string   `yaml:"source"` // "listings", "alpaca" or "file"
	URLs        []string `yaml:"urls"`
	File        string   `yaml:"file"`
	SnapshotDir string   `yaml:"snapshot_dir"`
}

// HistoryConfig selects and tunes the daily price history provider.
type HistoryConfig struct {
	Source        string        `yaml:"source"` // "yahoo" or "alpaca"
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// UpdateConfig holds the planning and execution policy of a run.
type UpdateConfig struct {
	DefaultStartDate   string        `yaml:"default_start_date"`
	OverlapDays        int           `yaml:"overlap_days"`
	FullUpdate         bool          `yaml:"full_update"`
	Workers            int           `yaml:"workers"`
	SerializeWrites    *bool         `yaml:"serialize_writes"`
	RateLimitPerMin    int           `yaml:"rate_limit_per_min"`
	AllowEmptyUniverse *bool         `yaml:"allow_empty_universe"`
	Stagger            StaggerConfig `yaml:"stagger"`
}

// StaggerConfig configures the random courtesy delay before each fetch.
type StaggerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Min     time.Duration `yaml:"min"`
	Max     time.Duration `yaml:"max"`
}

// DefaultStart parses DefaultStartDate.
func (u UpdateConfig) DefaultStart() (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, u.DefaultStartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing default_start_date %q: %w", u.DefaultStartDate, err)
	}
	return t, nil
}

// WritesSerialized reports whether the executor must serialise upserts.
func (u UpdateConfig) WritesSerialized() bool {
	return u.SerializeWrites == nil || *u.SerializeWrites
}

// EmptyUniverseAllowed reports whether an empty universe may deactivate
// every instrument.
func (u UpdateConfig) EmptyUniverseAllowed() bool {
	return u.AllowEmptyUniverse == nil || *u.AllowEmptyUniverse
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}

	// libpq-style names, so an existing psql environment just works.
	if v := os.Getenv("PGHOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = p
		}
	}
	if v := os.Getenv("PGUSER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		cfg.Postgres.DBName = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("OHLCVSYNC_FULL_UPDATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Update.FullUpdate = b
		}
	}

	// Standard Alpaca env vars win: they are the names the SDK itself reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills fields left empty by the file and the environment.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/ohlcvsync.db"
	}

	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.DBName == "" {
		cfg.Postgres.DBName = "ohlcvsync"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = 4
	}

	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "sip"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Universe.Source == "" {
		cfg.Universe.Source = "listings"
	}
	if cfg.Universe.Source == "listings" && len(cfg.Universe.URLs) == 0 {
		cfg.Universe.URLs = DefaultListingURLs
	}

	if cfg.History.Source == "" {
		cfg.History.Source = "yahoo"
	}
	if cfg.History.Timeout == 0 {
		cfg.History.Timeout = 20 * time.Second
	}
	if cfg.History.RetryAttempts == 0 {
		cfg.History.RetryAttempts = 3
	}
	if cfg.History.RetryDelay == 0 {
		cfg.History.RetryDelay = time.Second
	}

	if cfg.Update.DefaultStartDate == "" {
		cfg.Update.DefaultStartDate = "1975-01-01"
	}
	if cfg.Update.Workers == 0 {
		cfg.Update.Workers = 1
	}
	if cfg.Update.SerializeWrites == nil {
		// Postgres upserts are row-atomic; SQLite and Parquet are single-writer.
		v := cfg.Storage.Driver != "postgres" || cfg.Storage.ArchiveDir != ""
		cfg.Update.SerializeWrites = &v
	}
	if cfg.Update.Stagger.Enabled && cfg.Update.Stagger.Max == 0 {
		cfg.Update.Stagger.Min = 100 * time.Millisecond
		cfg.Update.Stagger.Max = 300 * time.Millisecond
	}
}

// DefaultListingURLs are the exchange symbol lists used by the "listings"
// universe source.
var DefaultListingURLs = []string{
	"https://raw.githubusercontent.com/rreichel3/US-Stock-Symbols/main/nasdaq/nasdaq_tickers.json",
	"https://raw.githubusercontent.com/rreichel3/US-Stock-Symbols/main/nyse/nyse_tickers.json",
	"https://raw.githubusercontent.com/rreichel3/US-Stock-Symbols/main/amex/amex_tickers.json",
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks field values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: want sqlite or postgres", c.Storage.Driver))
	}

	switch c.Universe.Source {
	case "listings", "alpaca":
	case "file":
		if c.Universe.File == "" {
			errs = append(errs, errors.New("universe.file is required for the file source"))
		}
	default:
		errs = append(errs, fmt.Errorf("universe.source %q: want listings, alpaca or file", c.Universe.Source))
	}

	switch c.History.Source {
	case "yahoo", "alpaca":
	default:
		errs = append(errs, fmt.Errorf("history.source %q: want yahoo or alpaca", c.History.Source))
	}

	if (c.History.Source == "alpaca" || c.Universe.Source == "alpaca") && (c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "") {
		errs = append(errs, errors.New("alpaca credentials are required for alpaca sources"))
	}

	if _, err := c.Update.DefaultStart(); err != nil {
		errs = append(errs, err)
	}
	if c.Update.OverlapDays < 0 {
		errs = append(errs, fmt.Errorf("update.overlap_days %d: must be >= 0", c.Update.OverlapDays))
	}
	if c.Update.Workers < 1 {
		errs = append(errs, fmt.Errorf("update.workers %d: must be >= 1", c.Update.Workers))
	}
	if c.Update.Stagger.Min > c.Update.Stagger.Max {
		errs = append(errs, errors.New("update.stagger.min must not exceed update.stagger.max"))
	}

	return errors.Join(errs...)
}
