package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

// Token is a static identity-provider entry: a raw bearer token and the
// claims it stands for.
type Token struct {
	Token             string   `yaml:"token"`
	Subject           string   `yaml:"subject"`
	PreferredUsername string   `yaml:"preferred_username"`
	TokenID           string   `yaml:"token_id"`
	Name              string   `yaml:"name"`
	Roles             []string `yaml:"roles"`
}

type Auth struct {
	Header  string  `yaml:"header"`
	Require bool    `yaml:"require"`
	Tokens  []Token `yaml:"tokens"`
}

// Limits are requests per window.
type Limits struct {
	Window          time.Duration `yaml:"window"`
	TenantDefault   int64         `yaml:"tenant_default"`
	Principal       int64         `yaml:"principal"`
	Address         int64         `yaml:"address"`
	Global          int64         `yaml:"global"` // 0 disables the global tier
	Shards          int           `yaml:"shards"`
	MaxKeysPerShard int           `yaml:"max_keys_per_shard"` // 0 = unbounded
}

type Stats struct {
	Enabled       bool          `yaml:"enabled"`
	RedisAddr     string        `yaml:"redis_addr"` // empty keeps stats in memory
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	TTL           time.Duration `yaml:"ttl"`
	TrackKeys     bool          `yaml:"track_keys"`
	QueueSize     int           `yaml:"queue_size"`
	MaxKeys       int           `yaml:"max_keys"` // in-memory per-key rows before folding into *other*
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type Routes struct {
	ID    string `yaml:"id"`
	Match struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`

	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"upstream"`
}

func (r Routes) Timeout() time.Duration {
	return time.Duration(r.Upstream.TimeoutMS) * time.Millisecond
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Stats         Stats         `yaml:"stats"`
	Routes        []Routes      `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Root) applyDefaults() {
	for i := range cfg.Routes {
		if cfg.Routes[i].Upstream.TimeoutMS <= 0 {
			cfg.Routes[i].Upstream.TimeoutMS = 3000
		}
		if cfg.Routes[i].ID == "" {
			cfg.Routes[i].ID = fmt.Sprintf("route-%d", i)
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "Authorization"
	}
	if cfg.Limits.Window == 0 {
		cfg.Limits.Window = time.Minute
	}
	if cfg.Limits.TenantDefault == 0 {
		cfg.Limits.TenantDefault = 5000
	}
	if cfg.Limits.Principal == 0 {
		cfg.Limits.Principal = 100
	}
	if cfg.Limits.Address == 0 {
		cfg.Limits.Address = 1000
	}
	if cfg.Limits.Shards == 0 {
		cfg.Limits.Shards = 16
	}
	if cfg.Limits.MaxKeysPerShard == 0 {
		cfg.Limits.MaxKeysPerShard = 4096
	}
	if cfg.Stats.Prefix == "" {
		cfg.Stats.Prefix = "edgeguard:stats"
	}
	if cfg.Stats.TTL == 0 {
		cfg.Stats.TTL = 24 * time.Hour
	}
	if cfg.Stats.QueueSize == 0 {
		cfg.Stats.QueueSize = 1024
	}
	if cfg.Stats.MaxKeys == 0 {
		cfg.Stats.MaxKeys = 10000
	}
	if cfg.Stats.WriteTimeout == 0 {
		cfg.Stats.WriteTimeout = 2 * time.Second
	}
}

// Validate reports every problem found, joined.
func (cfg *Root) Validate() error {
	var errs []error
	l := cfg.Limits
	if l.Window <= 0 {
		errs = append(errs, fmt.Errorf("limits.window must be positive, got %s", l.Window))
	}
	for name, v := range map[string]int64{
		"limits.tenant_default": l.TenantDefault,
		"limits.principal":      l.Principal,
		"limits.address":        l.Address,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if l.Global < 0 {
		errs = append(errs, fmt.Errorf("limits.global must not be negative, got %d", l.Global))
	}
	if l.Shards < 0 || l.MaxKeysPerShard < 0 {
		errs = append(errs, errors.New("limits.shards and limits.max_keys_per_shard must not be negative"))
	}
	if cfg.Stats.MaxKeys < 0 || cfg.Stats.WriteTimeout < 0 {
		errs = append(errs, errors.New("stats.max_keys and stats.write_timeout must not be negative"))
	}
	if !strings.HasPrefix(cfg.Observability.PrometheusPath, "/") {
		errs = append(errs, fmt.Errorf("observability.prometheus_path %q must start with /", cfg.Observability.PrometheusPath))
	}
	for _, t := range cfg.Auth.Tokens {
		if strings.TrimSpace(t.Token) == "" {
			errs = append(errs, errors.New("auth.tokens: entry with empty token"))
		}
	}
	for _, r := range cfg.Routes {
		u, err := url.Parse(r.Upstream.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("routes[%s].upstream.url %q is not an absolute http(s) url", r.ID, r.Upstream.URL))
		}
	}
	return errors.Join(errs...)
}
