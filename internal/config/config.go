package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fibermap/core-go/internal/optical"
	"fibermap/core-go/internal/probe"
	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/topology"
)

const (
	DriverAuto     = "auto"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProbeSourceStore = "store"
	ProbeSourceSNMP  = "snmp"
)

type Config struct {
	HTTPAddr string  `mapstructure:"http_addr"`
	LogLevel string  `mapstructure:"log_level"`
	Store    Store   `mapstructure:"store"`
	Optical  Optical `mapstructure:"optical"`
	Status   Status  `mapstructure:"status"`
	Cache    Cache   `mapstructure:"cache"`
}

type Store struct {
	Driver      string `mapstructure:"driver"` // auto, memory, sqlite, postgres
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

type Optical struct {
	FiberLossPerKm   float64 `mapstructure:"fiber_loss_per_km"`
	ODCModel         string  `mapstructure:"odc_model"` // fixed_offset, fiber
	ODCPortPolicy    string  `mapstructure:"odc_port_policy"`
	ODPPortPolicy    string  `mapstructure:"odp_port_policy"`
	DefaultLaunchDBm float64 `mapstructure:"default_launch_dbm"`
}

type Status struct {
	OnlineWindow time.Duration `mapstructure:"online_window"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Interval     time.Duration `mapstructure:"interval"`
	Enabled      bool          `mapstructure:"enabled"`
	ProbeSource  string        `mapstructure:"probe_source"` // store, snmp
	SNMP         SNMP          `mapstructure:"snmp"`
}

type SNMP struct {
	Community string        `mapstructure:"community"`
	Version   string        `mapstructure:"version"`
	Port      int           `mapstructure:"port"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	Workers   int           `mapstructure:"workers"`
	Router    string        `mapstructure:"router"`
}

type Cache struct {
	TTL time.Duration `mapstructure:"ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8081")
	v.SetDefault("log_level", "info")

	v.SetDefault("store.driver", DriverAuto)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "")

	v.SetDefault("optical.fiber_loss_per_km", optical.DefaultFiberLossPerKm)
	v.SetDefault("optical.odc_model", string(topology.ODCModelFixedOffset))
	v.SetDefault("optical.odc_port_policy", string(optical.PortPolicyPassThrough))
	v.SetDefault("optical.odp_port_policy", string(optical.PortPolicyDivided))
	v.SetDefault("optical.default_launch_dbm", 2.0)

	v.SetDefault("status.online_window", status.DefaultOnlineWindow)
	v.SetDefault("status.fetch_timeout", status.DefaultFetchTimeout)
	v.SetDefault("status.interval", time.Minute)
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.probe_source", ProbeSourceStore)
	v.SetDefault("status.snmp.community", "public")
	v.SetDefault("status.snmp.version", "2c")
	v.SetDefault("status.snmp.port", 161)
	v.SetDefault("status.snmp.timeout", 900*time.Millisecond)
	v.SetDefault("status.snmp.retries", 0)
	v.SetDefault("status.snmp.workers", 16)
	v.SetDefault("status.snmp.router", "")

	v.SetDefault("cache.ttl", 30*time.Second)
}

// Load reads an optional YAML file, then FTTH_* environment overrides. The unprefixed
// HTTP_ADDR, LOG_LEVEL and DATABASE_URL are honoured too. An explicit path must exist; without
// one, ./fibermap.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FTTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("http_addr", "FTTH_HTTP_ADDR", "HTTP_ADDR")
	_ = v.BindEnv("log_level", "FTTH_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("store.database_url", "FTTH_STORE_DATABASE_URL", "DATABASE_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fibermap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" || c.Store.Driver == DriverAuto {
		switch {
		case c.Store.DatabaseURL != "":
			c.Store.Driver = DriverPostgres
		case c.Store.SQLitePath != "":
			c.Store.Driver = DriverSQLite
		default:
			c.Store.Driver = DriverMemory
		}
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "fibermap.db"
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("store.driver postgres needs a database url (DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Status.ProbeSource {
	case ProbeSourceStore, ProbeSourceSNMP:
	default:
		return fmt.Errorf("unknown status.probe_source %q", c.Status.ProbeSource)
	}
	if c.Status.SNMP.Port <= 0 || c.Status.SNMP.Port > 65535 {
		return fmt.Errorf("status.snmp.port out of range: %d", c.Status.SNMP.Port)
	}
	if c.Status.Interval <= 0 {
		return fmt.Errorf("status.interval must be positive, got %s", c.Status.Interval)
	}
	if c.Optical.FiberLossPerKm < 0 || !optical.Valid(c.Optical.FiberLossPerKm, c.Optical.DefaultLaunchDBm) {
		return errors.New("optical values must be finite and the fibre loss non-negative")
	}
	return nil
}

// PowerModel maps the optical section onto the topology power model.
func (c *Config) PowerModel() topology.PowerModel {
	return topology.PowerModel{
		FiberLossPerKm:   c.Optical.FiberLossPerKm,
		ODCModel:         topology.ParseODCModel(c.Optical.ODCModel),
		ODCPortPolicy:    optical.ParsePortPolicy(c.Optical.ODCPortPolicy, optical.PortPolicyPassThrough),
		ODPPortPolicy:    optical.ParsePortPolicy(c.Optical.ODPPortPolicy, optical.PortPolicyDivided),
		DefaultLaunchDBm: c.Optical.DefaultLaunchDBm,
	}
}

func (c *Config) ResolverOptions() status.Options {
	return status.Options{
		OnlineWindow: c.Status.OnlineWindow,
		FetchTimeout: c.Status.FetchTimeout,
	}
}

func (c *Config) ProbeConfig() probe.Config {
	s := c.Status.SNMP
	return probe.Config{
		Community: s.Community,
		Version:   s.Version,
		Port:      uint16(s.Port),
		Timeout:   s.Timeout,
		Retries:   s.Retries,
		Workers:   s.Workers,
		Router:    s.Router,
	}
}
