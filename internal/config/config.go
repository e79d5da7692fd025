package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/codefionn/transports/internal/logger"
	"github.com/codefionn/transports/internal/socketclient"
	"github.com/codefionn/transports/internal/transport"
	"github.com/codefionn/transports/internal/web"
	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	appName    = "transports"
	envPrefix  = "TRANSPORTS"
	configType = "toml"
)

// ClientConfig configures the WebSocket client side of a session.
type ClientConfig struct {
	Protocol         string        `mapstructure:"protocol"`
	Host             string        `mapstructure:"host"`
	Path             string        `mapstructure:"path"`
	Origin           string        `mapstructure:"origin"`
	ClientID         string        `mapstructure:"client_id"`
	ClientHeader     string        `mapstructure:"client_header"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// ServerConfig configures the hosting side.
type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	Path         string `mapstructure:"path"`
	ClientHeader string `mapstructure:"client_header"`
	Shared       bool   `mapstructure:"shared"`
	ReadOnly     bool   `mapstructure:"readonly"`
	PidFile      string `mapstructure:"pidfile"`
	MaxConns     int    `mapstructure:"max_conns"` // 0 is unlimited
}

// Config represents application configuration
type Config struct {
	LogLevel string       `mapstructure:"log_level"` // debug, info, warn, error, none
	LogPath  string       `mapstructure:"log_path"`  // "-" for stderr
	Client   ClientConfig `mapstructure:"client"`
	Server   ServerConfig `mapstructure:"server"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", appName)
}

func setDefaults(v *viper.Viper) {
	client := socketclient.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_path", "-")

	v.SetDefault("client.protocol", client.Protocol)
	v.SetDefault("client.host", client.Host)
	v.SetDefault("client.path", client.Path)
	v.SetDefault("client.origin", client.Origin)
	v.SetDefault("client.client_id", "")
	v.SetDefault("client.client_header", client.ClientHeader)
	v.SetDefault("client.handshake_timeout", client.HandshakeTimeout)
	v.SetDefault("client.write_timeout", client.WriteTimeout)

	v.SetDefault("server.addr", web.DefaultAddr)
	v.SetDefault("server.path", web.DefaultPath)
	v.SetDefault("server.client_header", web.DefaultClientHeader)
	v.SetDefault("server.shared", true)
	v.SetDefault("server.readonly", false)
	v.SetDefault("server.pidfile", "")
	v.SetDefault("server.max_conns", 0)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	c, err := decode(newViper())
	if err != nil {
		// defaults are static and always decode
		panic(err)
	}
	return c
}

// Load reads configuration from path, layered over the defaults, with
// TRANSPORTS_* environment variables taking precedence. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	return decode(v)
}

// Watch reads path and calls fn with the reloaded configuration every time
// the file is written. The watch lasts for the life of the process.
func Watch(path string, fn func(*Config)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	log := logger.Named("config")
	v.OnConfigChange(func(e fsnotify.Event) {
		c, err := decode(v)
		if err != nil {
			log.Warn("Ignoring config change %s: %v", e.Name, err)
			return
		}
		log.Info("Config reloaded: %s", e.Name)
		fn(c)
	})
	v.WatchConfig()
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(defaultConfigDir(), "config.toml")
}

type fileSchema struct {
	LogLevel string       `toml:"log_level"`
	LogPath  string       `toml:"log_path"`
	Client   clientSchema `toml:"client"`
	Server   serverSchema `toml:"server"`
}

type clientSchema struct {
	Protocol         string `toml:"protocol"`
	Host             string `toml:"host"`
	Path             string `toml:"path"`
	Origin           string `toml:"origin"`
	ClientID         string `toml:"client_id"`
	ClientHeader     string `toml:"client_header"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
}

type serverSchema struct {
	Addr         string `toml:"addr"`
	Path         string `toml:"path"`
	ClientHeader string `toml:"client_header"`
	Shared       bool   `toml:"shared"`
	ReadOnly     bool   `toml:"readonly"`
	PidFile      string `toml:"pidfile"`
	MaxConns     int    `toml:"max_conns"`
}

// Save writes the configuration to path as TOML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	data, err := toml.Marshal(fileSchema{
		LogLevel: c.LogLevel,
		LogPath:  c.LogPath,
		Client: clientSchema{
			Protocol:         c.Client.Protocol,
			Host:             c.Client.Host,
			Path:             c.Client.Path,
			Origin:           c.Client.Origin,
			ClientID:         c.Client.ClientID,
			ClientHeader:     c.Client.ClientHeader,
			HandshakeTimeout: c.Client.HandshakeTimeout.String(),
			WriteTimeout:     c.Client.WriteTimeout.String(),
		},
		Server: serverSchema(c.Server),
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// SocketClient returns the socketclient configuration.
func (c *Config) SocketClient() *socketclient.Config {
	sc := socketclient.DefaultConfig()
	sc.Protocol = c.Client.Protocol
	sc.Host = c.Client.Host
	sc.Path = c.Client.Path
	sc.Origin = c.Client.Origin
	sc.ClientHeader = c.Client.ClientHeader
	if c.Client.HandshakeTimeout > 0 {
		sc.HandshakeTimeout = c.Client.HandshakeTimeout
	}
	if c.Client.WriteTimeout > 0 {
		sc.WriteTimeout = c.Client.WriteTimeout
	}
	return sc
}

// WebOptions returns the hosting server options.
func (c *Config) WebOptions() web.Options {
	return web.Options{
		Addr:         c.Server.Addr,
		Path:         c.Server.Path,
		ClientHeader: c.Server.ClientHeader,
		MaxConns:     c.Server.MaxConns,
		Host: transport.HostOptions{
			Shared:   c.Server.Shared,
			ReadOnly: c.Server.ReadOnly,
		},
	}
}
