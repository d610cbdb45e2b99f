package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultStatePath    = "ddns.db"
	defaultMetricsAddr  = ":9090"
	defaultLogLevel     = "info"
	defaultLogEnv       = "prod"
	defaultFetchTimeout = 15 * time.Second
	defaultCommentMatch = CommentMatchContains
)

// Fetcher variants.
const (
	FetcherIpify    = "ipify"
	FetcherTrace    = "trace"
	FetcherNest     = "nest"
	FetcherResolver = "resolver"
	FetcherDisabled = "disabled"
)

// Comment matching modes for tag eligibility.
const (
	CommentMatchContains = "contains"
	CommentMatchToken    = "token"
)

type Config struct {
	Interval    time.Duration `yaml:"interval"`
	StatePath   string        `yaml:"statePath"`
	MetricsAddr string        `yaml:"metricsAddr"`
	Log         Log           `yaml:"log"`
	Fetchers    Fetchers      `yaml:"fetchers"`
	Cloudflare  Cloudflare    `yaml:"cloudflare"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type Fetchers struct {
	V4      Fetcher       `yaml:"v4"`
	V6      Fetcher       `yaml:"v6"`
	Timeout time.Duration `yaml:"timeout"`
}

// Fetcher selects one address source. Type is the discriminant, the other
// fields only apply to the variants that read them.
type Fetcher struct {
	Type     string     `yaml:"type"`
	URL      string     `yaml:"url"`
	RouterIP netip.Addr `yaml:"routerIp"`
	Server   string     `yaml:"server"`
	Name     string     `yaml:"name"`
}

type Cloudflare struct {
	Token        string   `yaml:"token"`
	Tag          string   `yaml:"tag"`
	Domains      []string `yaml:"domains"`
	CommentMatch string   `yaml:"commentMatch"`
	DryRun       bool     `yaml:"dryRun"`
}

func Load(path string) (*Config, error) {
	configFile := true
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail find config file, proceeding", "path", path)
		configFile = false
	}

	var cfg Config
	if configFile {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			f.Close()
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.StatePath == "" {
		cfg.StatePath = defaultStatePath
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = defaultLogEnv
	}
	if cfg.Fetchers.Timeout == 0 {
		cfg.Fetchers.Timeout = defaultFetchTimeout
	}
	// An unset family is deliberately suppressed rather than guessed.
	if cfg.Fetchers.V4.Type == "" {
		cfg.Fetchers.V4.Type = FetcherDisabled
	}
	if cfg.Fetchers.V6.Type == "" {
		cfg.Fetchers.V6.Type = FetcherDisabled
	}
	if cfg.Cloudflare.CommentMatch == "" {
		cfg.Cloudflare.CommentMatch = defaultCommentMatch
	}
}

func (cfg *Config) applyEnv() {
	if token := os.Getenv("CLOUDFLARE_DDNS_TOKEN"); token != "" {
		cfg.Cloudflare.Token = token
	}
	if tag := os.Getenv("CLOUDFLARE_DDNS_TAG"); tag != "" {
		cfg.Cloudflare.Tag = tag
	}
	if domains := os.Getenv("CLOUDFLARE_DDNS_DOMAINS"); domains != "" {
		cfg.Cloudflare.Domains = splitList(domains)
	}
	if interval := os.Getenv("CLOUDFLARE_DDNS_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Interval = d
		} else {
			slog.Default().Warn("fail parse interval to duration from string", "interval", interval, "error", err)
		}
	}
	if statePath := os.Getenv("CLOUDFLARE_DDNS_STATE_PATH"); statePath != "" {
		cfg.StatePath = statePath
	}
	if addr := os.Getenv("CLOUDFLARE_DDNS_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if dryRun := os.Getenv("CLOUDFLARE_DDNS_DRYRUN"); dryRun != "" {
		switch strings.ToLower(dryRun) {
		case "true":
			cfg.Cloudflare.DryRun = true
		case "false":
			cfg.Cloudflare.DryRun = false
		default:
			slog.Default().Warn("fail parse dryrun to bool from string", "dryrun", dryRun)
		}
	}
	if loglevel := os.Getenv("CLOUDFLARE_DDNS_LOG_LEVEL"); loglevel != "" {
		cfg.Log.Level = loglevel
	}
	if logenv := os.Getenv("CLOUDFLARE_DDNS_LOG_ENV"); logenv != "" {
		cfg.Log.Env = logenv
	}
}

// Validate reports the first problem that would stop a run from doing useful work.
func (cfg *Config) Validate() error {
	if cfg.Cloudflare.Token == "" {
		return errors.New("cloudflare token required")
	}
	if cfg.Cloudflare.Tag == "" {
		return errors.New("cloudflare tag required")
	}
	if len(cfg.Cloudflare.Domains) == 0 {
		return errors.New("at least one cloudflare domain required")
	}
	switch cfg.Cloudflare.CommentMatch {
	case CommentMatchContains, CommentMatchToken:
	default:
		return fmt.Errorf("unknown comment match mode %q", cfg.Cloudflare.CommentMatch)
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", cfg.Interval)
	}
	if err := cfg.Fetchers.V4.validate("v4"); err != nil {
		return err
	}
	if err := cfg.Fetchers.V6.validate("v6"); err != nil {
		return err
	}
	return nil
}

func (f Fetcher) validate(family string) error {
	switch f.Type {
	case FetcherIpify, FetcherTrace, FetcherResolver, FetcherDisabled:
		return nil
	case FetcherNest:
		if family != "v4" {
			return fmt.Errorf("fetcher %s: nest router only reports an ipv4 wan address", family)
		}
		if !f.RouterIP.IsValid() {
			return fmt.Errorf("fetcher %s: nest requires routerIp", family)
		}
		return nil
	default:
		return fmt.Errorf("fetcher %s: unknown type %q", family, f.Type)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
