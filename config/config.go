// Package config loads mikoproxy's configuration from built-in defaults, an
// optional YAML file, an optional .env file and MIKO_* environment
// variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mikoworkspace/mikoproxy/httpclient"
)

// ErrNoTargets is returned by Validate when no proxy target is configured.
var ErrNoTargets = errors.New("at least one proxy target is required")

// Session backends.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

const (
	// DefaultFile is the config file looked up next to the executable.
	DefaultFile = "mikoproxy.yaml"
	// DefaultEnvFile is the dotenv file looked up in the working directory.
	DefaultEnvFile = ".env"

	defaultUpstream     = "http://10.10.60.8:1669"
	defaultMaxBodyBytes = 256 << 20
)

// Config is the full runtime configuration.
type Config struct {
	Listen   ListenConfig      `yaml:"listen"`
	Upstream string            `yaml:"upstream"`
	Targets  map[string]Target `yaml:"targets"`

	// MaxBodyBytes caps inbound request bodies read by the proxy.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	Sessions  SessionsConfig    `yaml:"sessions"`
	HTTP      httpclient.Config `yaml:"http"`
	Downloads DownloadsConfig   `yaml:"downloads"`
	IPC       IPCConfig         `yaml:"ipc"`

	// defaultTargets is true while Targets is the built-in table, whose
	// /api entry tracks Upstream.
	defaultTargets bool
}

// IPCConfig configures the UI WebSocket.
type IPCConfig struct {
	// AllowedOrigins replaces the desktop shell's built-in origins when set.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ListenConfig is the local listener address.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// Target is one upstream the proxy forwards a path prefix to.
type Target struct {
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`
	StripPrefix bool              `yaml:"strip_prefix"`
	PathPrefix  string            `yaml:"path_prefix,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// SessionsConfig selects and configures the session backend.
type SessionsConfig struct {
	Backend       string        `yaml:"backend"`
	File          string        `yaml:"file"`
	BoltFile      string        `yaml:"bolt_file"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the redis session backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// DownloadsConfig configures the download supervisor.
type DownloadsConfig struct {
	// Dir is where downloads land.
	Dir string `yaml:"dir"`
	// Downloader is the path of the downloader executable.
	Downloader string `yaml:"downloader"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Host: "0.0.0.0", Port: 8080},
		Upstream: defaultUpstream,
		Targets: map[string]Target{
			"/api": {
				Host: "10.10.60.8",
				Port: 1669,
				Headers: map[string]string{
					"X-Forwarded-For":   "127.0.0.1",
					"X-Forwarded-Proto": "http",
				},
			},
		},
		MaxBodyBytes: defaultMaxBodyBytes,
		Sessions: SessionsConfig{
			Backend:       BackendFile,
			TTL:           7 * 24 * time.Hour,
			SweepInterval: time.Hour,
			Redis:         RedisConfig{Addr: "127.0.0.1:6379"},
		},
		HTTP: httpclient.DefaultConfig(),
		Downloads: DownloadsConfig{
			Dir:        DefaultDownloadsDir(),
			Downloader: DefaultDownloader(),
		},
		defaultTargets: true,
	}
}

// LoadOptions names the files Load reads. Empty names select the defaults,
// which are skipped silently when absent; explicitly named files must exist.
type LoadOptions struct {
	File    string
	EnvFile string
	// Lookup replaces os.LookupEnv, for tests.
	Lookup func(string) (string, bool)
}

// Load builds a validated Config.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	file, explicit := opts.File, opts.File != ""
	if !explicit {
		file = besideExecutable(DefaultFile)
	}
	if err := cfg.mergeFile(file); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	envFile, explicit := opts.EnvFile, opts.EnvFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.followUpstream(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	// Targets from a file replace the default table rather than merging
	// into it.
	var probe struct {
		Targets map[string]Target `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if probe.Targets != nil {
		c.Targets = nil
		c.defaultTargets = false
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	str("MIKO_LISTEN_HOST", &c.Listen.Host)
	if err := integer("MIKO_LISTEN_PORT", &c.Listen.Port); err != nil {
		return err
	}
	str("MIKO_UPSTREAM", &c.Upstream)
	str("MIKO_SESSION_BACKEND", &c.Sessions.Backend)
	str("MIKO_SESSION_FILE", &c.Sessions.File)
	if v, ok := lookup("MIKO_SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MIKO_SESSION_TTL: %w", err)
		}
		c.Sessions.TTL = d
	}
	str("MIKO_REDIS_ADDR", &c.Sessions.Redis.Addr)
	str("MIKO_REDIS_USERNAME", &c.Sessions.Redis.Username)
	str("MIKO_REDIS_PASSWORD", &c.Sessions.Redis.Password)
	if err := integer("MIKO_REDIS_DB", &c.Sessions.Redis.DB); err != nil {
		return err
	}
	str("MIKO_DOWNLOAD_DIR", &c.Downloads.Dir)
	str("MIKO_DOWNLOADER", &c.Downloads.Downloader)
	if v, ok := lookup("MIKO_IPC_ORIGINS"); ok && v != "" {
		c.IPC.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.IPC.AllowedOrigins = append(c.IPC.AllowedOrigins, o)
			}
		}
	}
	return nil
}

// SetUpstream changes the ERP base URL. While Targets is the built-in table
// the /api target is moved to the same host and port, so a token minted by
// one ERP is never forwarded to another.
func (c *Config) SetUpstream(raw string) error {
	c.Upstream = raw
	return c.followUpstream()
}

func (c *Config) followUpstream() error {
	if !c.defaultTargets {
		return nil
	}
	scheme, host, port, err := parseUpstream(c.Upstream)
	if err != nil {
		return err
	}
	if scheme != "http" {
		return fmt.Errorf("upstream %q: the built-in /api target is plain http; configure targets explicitly", c.Upstream)
	}
	t := c.Targets["/api"]
	t.Host, t.Port = host, port
	c.Targets["/api"] = t
	return nil
}

func parseUpstream(raw string) (scheme, host string, port int, err error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", "", 0, fmt.Errorf("upstream %q must be an absolute http(s) URL", raw)
	}
	switch {
	case u.Port() != "":
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return "", "", 0, fmt.Errorf("upstream %q: %w", raw, err)
		}
	case u.Scheme == "https":
		port = 443
	default:
		port = 80
	}
	return u.Scheme, u.Hostname(), port, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTargets
	}
	for prefix, t := range c.Targets {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("target prefix %q must start with /", prefix)
		}
		if t.Host == "" {
			return fmt.Errorf("target %q: host is required", prefix)
		}
		if t.Port < 1 || t.Port > 65535 {
			return fmt.Errorf("target %q: port %d out of range", prefix, t.Port)
		}
		if t.PathPrefix != "" && !strings.HasPrefix(t.PathPrefix, "/") {
			return fmt.Errorf("target %q: path_prefix %q must start with /", prefix, t.PathPrefix)
		}
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen port %d out of range", c.Listen.Port)
	}
	_, host, port, err := parseUpstream(c.Upstream)
	if err != nil {
		return err
	}
	if t, ok := c.Targets["/api"]; c.defaultTargets && ok && (t.Host != host || t.Port != port) {
		return fmt.Errorf("upstream %q does not match the /api target %s:%d", c.Upstream, t.Host, t.Port)
	}
	switch c.Sessions.Backend {
	case BackendFile, BackendBolt, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown session backend %q", c.Sessions.Backend)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return nil
}

// UpstreamURL returns Upstream with any trailing slash removed.
func (c *Config) UpstreamURL() string {
	return strings.TrimRight(c.Upstream, "/")
}

// DefaultDownloadsDir returns the user's Downloads directory, or
// ./Downloads when the home directory is unknown.
func DefaultDownloadsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Downloads")
	}
	return "Downloads"
}

// DefaultDownloader returns the downloader executable that ships beside
// the running binary.
func DefaultDownloader() string {
	name := "downloaderservice"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return besideExecutable(name)
}

func besideExecutable(name string) string {
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(exe), name)
}
