package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. It is built once at startup and not
// modified afterwards.
type Config struct {
	Port          int    `yaml:"port" toml:"port"`
	Listen        string `yaml:"listen" toml:"listen"`
	Server        string `yaml:"server" toml:"server"`
	ServerPort    int    `yaml:"server_port" toml:"server_port"`
	Verbose       bool   `yaml:"verbose" toml:"verbose"`
	UpstreamProxy string `yaml:"upstream_proxy" toml:"upstream_proxy"`
	MetricsAddr   string `yaml:"metrics" toml:"metrics"`
	RedisAddr     string `yaml:"redis" toml:"redis"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	ConfigFile    string `yaml:"-" toml:"-"`
}

func defaultConfig() Config {
	return Config{Port: 2525, ServerPort: 25, MetricsAddr: ":9100"}
}

// ListenAddr is the local address the proxy accepts clients on.
func (c Config) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.Port))
}

// RemoteAddr is the SMTP server every session is relayed to.
func (c Config) RemoteAddr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.ServerPort))
}

func (c Config) validate() error {
	if c.Server == "" {
		return errors.New("remote smtp server is required (-server)")
	}
	if c.Listen == "" && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("invalid local port %d", c.Port)
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerPort)
	}
	return nil
}

// newFlagSet registers flags on c, using c's current values as defaults.
func newFlagSet(c *Config, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("smtpstrip", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.IntVar(&c.Port, "port", c.Port, "local port where the proxy will listen")
	fs.IntVar(&c.Port, "p", c.Port, "shorthand for -port")
	fs.StringVar(&c.Listen, "listen", c.Listen, "local listen address (overrides -port)")
	fs.StringVar(&c.Server, "server", c.Server, "remote smtp server address (name or ip)")
	fs.StringVar(&c.Server, "s", c.Server, "shorthand for -server")
	fs.IntVar(&c.ServerPort, "server-port", c.ServerPort, "remote smtp server port")
	fs.IntVar(&c.ServerPort, "P", c.ServerPort, "shorthand for -server-port")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "enables more verbose logging")
	fs.BoolVar(&c.Verbose, "v", c.Verbose, "shorthand for -verbose")
	fs.StringVar(&c.UpstreamProxy, "upstream-proxy", c.UpstreamProxy, "dial the smtp server through this proxy (socks5://host:port)")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "metrics and health listen address (empty disables)")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "redis address for shared session stats (empty keeps them in memory)")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "redis database")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "optional YAML or TOML config file; flags override it")
	return fs
}

// loadConfig parses args, applies the config file when one is named and then
// parses args again so the command line wins over the file.
func loadConfig(args []string, out io.Writer) (Config, error) {
	cfg := defaultConfig()
	if err := newFlagSet(&cfg, out).Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ConfigFile != "" {
		fileCfg := defaultConfig()
		if err := readConfigFile(cfg.ConfigFile, &fileCfg); err != nil {
			return Config{}, err
		}
		if err := newFlagSet(&fileCfg, io.Discard).Parse(args); err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}
	return cfg, cfg.validate()
}

func readConfigFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse toml config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}
