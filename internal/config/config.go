// Package config loads the fleetbot configuration: the shared core sections
// plus database, MTProto, fleet and runner settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/fleetbot/core/config"
	coredatabase "github.com/m3rciful/fleetbot/core/database"
)

// MTProtoConfig holds the client settings used to open account sessions.
type MTProtoConfig struct {
	// APIID and APIHash are offered to the login flow so operators can
	// skip typing them. Both or neither must be set.
	APIID        int           `yaml:"api_id" envconfig:"MTPROTO_API_ID"`
	APIHash      string        `yaml:"api_hash" envconfig:"MTPROTO_API_HASH"`
	DialTimeout  time.Duration `yaml:"dial_timeout" envconfig:"MTPROTO_DIAL_TIMEOUT"`
	Lifetime     time.Duration `yaml:"lifetime" envconfig:"MTPROTO_LIFETIME"`
	RequestRate  float64       `yaml:"request_rate" envconfig:"MTPROTO_REQUEST_RATE"`
	RequestBurst int           `yaml:"request_burst" envconfig:"MTPROTO_REQUEST_BURST"`
	DeviceModel  string        `yaml:"device_model" envconfig:"MTPROTO_DEVICE_MODEL"`
	AppVersion   string        `yaml:"app_version" envconfig:"MTPROTO_APP_VERSION"`
}

// FleetConfig bounds what one operator can do.
type FleetConfig struct {
	AccountLimit int           `yaml:"account_limit" envconfig:"FLEET_ACCOUNT_LIMIT"`
	FlowTTL      time.Duration `yaml:"flow_ttl" envconfig:"FLEET_FLOW_TTL"`
	PageSize     int           `yaml:"page_size" envconfig:"FLEET_PAGE_SIZE"`
}

// RunnerConfig paces bulk runs.
type RunnerConfig struct {
	AccountDelay  time.Duration `yaml:"account_delay" envconfig:"RUNNER_ACCOUNT_DELAY"`
	RiskyDelay    time.Duration `yaml:"risky_delay" envconfig:"RUNNER_RISKY_DELAY"`
	RepeatDelay   time.Duration `yaml:"repeat_delay" envconfig:"RUNNER_REPEAT_DELAY"`
	Jitter        time.Duration `yaml:"jitter" envconfig:"RUNNER_JITTER"`
	ProgressEvery int           `yaml:"progress_every" envconfig:"RUNNER_PROGRESS_EVERY"`
	DetailLimit   int           `yaml:"detail_limit" envconfig:"RUNNER_DETAIL_LIMIT"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	MTProto  MTProtoConfig       `yaml:"mtproto"`
	Fleet    FleetConfig         `yaml:"fleet"`
	Runner   RunnerConfig        `yaml:"runner"`
}

// CoreConfig exposes the embedded core sections.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads an optional .env file, then the YAML file at path, then
// environment overrides. A missing YAML file leaves configuration to the
// environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	c.Database.Normalize()
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}

	m := &c.MTProto
	if (m.APIID == 0) != (m.APIHash == "") {
		return fmt.Errorf("mtproto.api_id and mtproto.api_hash must be set together")
	}
	if m.APIID < 0 {
		return fmt.Errorf("mtproto.api_id must be positive")
	}
	if m.RequestRate < 0 {
		return fmt.Errorf("mtproto.request_rate must be >= 0")
	}

	f := &c.Fleet
	if f.AccountLimit <= 0 {
		f.AccountLimit = 10
	}
	if f.FlowTTL <= 0 {
		f.FlowTTL = 30 * time.Minute
	}
	if f.PageSize <= 0 {
		f.PageSize = 10
	}
	if f.PageSize > 20 {
		return fmt.Errorf("fleet.page_size must be <= 20")
	}

	r := &c.Runner
	if r.AccountDelay == 0 {
		r.AccountDelay = 3 * time.Second
	}
	if r.RiskyDelay == 0 {
		r.RiskyDelay = 10 * time.Second
	}
	if r.RepeatDelay == 0 {
		r.RepeatDelay = time.Second
	}
	if r.ProgressEvery <= 0 {
		r.ProgressEvery = 10
	}
	if r.DetailLimit <= 0 {
		r.DetailLimit = 20
	}
	if r.AccountDelay < 0 || r.RiskyDelay < 0 || r.RepeatDelay < 0 || r.Jitter < 0 {
		return fmt.Errorf("runner delays must be >= 0")
	}
	return nil
}
