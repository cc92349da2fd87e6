// Package config loads the settings of the hm3301 command.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/womat/hm3301/pkg/session"
)

type DeviceConfig struct {
	// Connection as accepted by hm3301.ParseConnection
	Connection string `mapstructure:"connection"`
}

type CaptureConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type SessionConfig struct {
	PollAttempts int           `mapstructure:"pollAttempts"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
	ResetDelay   time.Duration `mapstructure:"resetDelay"`
	SettleDelay  time.Duration `mapstructure:"settleDelay"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	// CleanInterval is the minimum time between two fan cleanings
	// triggered over HTTP
	CleanInterval time.Duration `mapstructure:"cleanInterval"`
}

type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

type LumberjackConfig struct {
	// Filename is empty to log to stderr
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

type LoggingConfig struct {
	// Level is full or standard
	Level string           `mapstructure:"level"`
	File  LumberjackConfig `mapstructure:"file"`
}

type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Capture CaptureConfig `mapstructure:"capture"`
	Session SessionConfig `mapstructure:"session"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// flagKeys binds command line flags to config keys
var flagKeys = map[string]string{
	"connection": "device.connection",
	"interval":   "capture.interval",
	"addr":       "http.addr",
	"log-level":  "logging.level",
	"log-file":   "logging.file.filename",
}

// Load reads the config file at path (or ./hm3301.yaml, /etc/hm3301/hm3301.yaml
// if path is empty), then the HM3301_* environment and the flags that
// were set in flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hm3301")
		v.SetConfigName("hm3301")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("HM3301")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %v", name)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.connection", "i2c /dev/i2c-1 0x69")

	v.SetDefault("capture.interval", "10s")

	v.SetDefault("session.pollAttempts", 5)
	v.SetDefault("session.pollInterval", "300ms")
	v.SetDefault("session.resetDelay", "300ms")
	v.SetDefault("session.settleDelay", "20ms")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.cleanInterval", "1m")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "standard")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)
}

// Options converts the session settings into session options.
func (c SessionConfig) Options() []session.Option {
	return []session.Option{
		session.WithPollAttempts(c.PollAttempts),
		session.WithPollInterval(c.PollInterval),
		session.WithResetDelay(c.ResetDelay),
		session.WithSettleDelay(c.SettleDelay),
	}
}
