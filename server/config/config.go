// Package config holds the server bootstrap configuration: the settings
// the process needs before it can reach the backend and read the
// runtime configuration stored there.
package config

import (
	"flag"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the helix server configuration.
type Config struct {
	*flag.FlagSet `json:"-"`

	Version bool `json:"-"`

	// ListenHost and ListenPort override the stored listen_addresses and
	// listen_port settings for the management listener. Zero values defer
	// to the stored configuration.
	ListenHost string `toml:"listen-host" json:"listen-host"`
	ListenPort int    `toml:"listen-port" json:"listen-port"`

	// Backend selects the storage backend implementation.
	Backend string `toml:"backend" json:"backend"`

	// MetricsAddr is the address the Prometheus endpoint binds to. Empty
	// disables it.
	MetricsAddr string `toml:"metrics-addr" json:"metrics-addr"`

	MaxBackendConnections int `toml:"max-backend-connections" json:"max-backend-connections"`

	// Log related config.
	Log log.Config `toml:"log" json:"log"`

	configFile string

	logger   *zap.Logger
	logProps *log.ZapProperties
}

// NewConfig creates a new config.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("helix-server", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.BoolVar(&cfg.Version, "V", false, "print version information and exit")
	fs.BoolVar(&cfg.Version, "version", false, "print version information and exit")
	fs.StringVar(&cfg.configFile, "config", "", "config file")

	fs.StringVar(&cfg.ListenHost, "listen-host", "", "management listener host (default from stored config)")
	fs.IntVar(&cfg.ListenPort, "listen-port", 0, "management listener port (default from stored config)")
	fs.StringVar(&cfg.Backend, "backend", defaultBackend, "storage backend")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "prometheus endpoint address")
	fs.IntVar(&cfg.MaxBackendConnections, "max-backend-connections", 0, "backend connection limit")

	fs.StringVar(&cfg.Log.Level, "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")

	return cfg
}

const (
	defaultBackend               = "memory"
	defaultMaxBackendConnections = 10
)

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	// Load config file if specified.
	if c.configFile != "" {
		if err = c.configFromFile(c.configFile); err != nil {
			return err
		}
	}

	// Parse again to replace with command line options.
	err = c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("'%s' is an invalid flag", c.FlagSet.Arg(0))
	}

	c.Adjust()
	return c.Validate()
}

// Adjust fills in defaults for unset fields.
func (c *Config) Adjust() {
	adjustString(&c.Backend, defaultBackend)
	adjustInt(&c.MaxBackendConnections, defaultMaxBackendConnections)
	adjustString(&c.Log.Level, "info")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxBackendConnections < 0 {
		return errors.New("max-backend-connections must be positive")
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return errors.Errorf("invalid listen-port %d", c.ListenPort)
	}
	switch c.Backend {
	case "memory":
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

func (c *Config) configFromFile(path string) error {
	_, err := toml.DecodeFile(path, c)
	return errors.WithStack(err)
}

// SetupLogger setup the logger.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	c.logger = lg
	c.logProps = p
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

// GetZapLogProperties gets properties of the zap logger.
func (c *Config) GetZapLogProperties() *log.ZapProperties {
	return c.logProps
}
