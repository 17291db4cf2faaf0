package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"safechat/internal/crypto"
)

// EnvPrefix prefixes environment overrides, e.g. SAFECHAT_PORT or
// SAFECHAT_LOG_LEVEL.
const EnvPrefix = "SAFECHAT"

// Config holds runtime options for building the app.
type Config struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Cipher           string        `mapstructure:"cipher"`
	RSABits          int           `mapstructure:"rsa_bits"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"` // 0 disables
	MaxFrameSize     int           `mapstructure:"max_frame_size"`
	MetricsAddr      string        `mapstructure:"metrics_addr"` // empty disables
	Log              LogConfig     `mapstructure:"log"`
}

// LogConfig selects logger verbosity and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// NewViper returns a viper instance with defaults and environment
// overrides configured.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 9000)
	v.SetDefault("cipher", crypto.CBC{}.Name())
	v.SetDefault("rsa_bits", crypto.DefaultRSABits)
	v.SetDefault("dial_timeout", "10s")
	v.SetDefault("handshake_timeout", "30s")
	v.SetDefault("max_frame_size", 1<<20)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// BindFlags ties command line flags to their config keys. Flags that are
// not defined in fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	keys := map[string]string{
		"host":         "host",
		"port":         "port",
		"cipher":       "cipher",
		"rsa-bits":     "rsa_bits",
		"metrics-addr": "metrics_addr",
		"log-level":    "log.level",
		"log-format":   "log.format",
	}
	for flag, key := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

// Load reads the config file (file, or safechat.yaml in $HOME/.safechat or
// the working directory when file is empty), applies v's overrides and
// validates the result. A missing default config file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("safechat")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.safechat")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if _, err := crypto.CipherByName(c.Cipher); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.RSABits < crypto.MinRSABits {
		return fmt.Errorf("config: rsa_bits %d below minimum %d", c.RSABits, crypto.MinRSABits)
	}
	if c.DialTimeout < 0 || c.HandshakeTimeout < 0 {
		return errors.New("config: timeouts cannot be negative")
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("config: max_frame_size must be positive, got %d", c.MaxFrameSize)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
