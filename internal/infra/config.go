package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"esa_go/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultStreamHost is the production stream endpoint.
	DefaultStreamHost = "stream-api.betfair.com"
	// DefaultSSOHost is the identity endpoint used for interactive login.
	DefaultSSOHost = "identitysso.betfair.com"
)

// Config holds every setting of the application. LoadConfig overlays
// secrets from the environment after the YAML file is parsed.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Stream struct {
		Host                string `yaml:"host"`
		Port                int    `yaml:"port"`
		WSURL               string `yaml:"ws_url"` // when set, dial a websocket relay instead of TLS
		ConflateMs          *int64 `yaml:"conflate_ms"`
		HeartbeatMs         *int64 `yaml:"heartbeat_ms"`
		SegmentationEnabled *bool  `yaml:"segmentation_enabled"`
		KeepAliveSec        int    `yaml:"keep_alive_sec"`
		DialTimeoutSec      int    `yaml:"dial_timeout_sec"`
		TraceTruncation     int    `yaml:"trace_truncation"`
	} `yaml:"stream"`

	Auth struct {
		SSOHost            string `yaml:"sso_host"`
		AppKey             string `yaml:"app_key"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		SessionToken       string `yaml:"session_token"`
		SessionExpireHours int    `yaml:"session_expire_hours"`
	} `yaml:"auth"`

	Subscription struct {
		MarketIDs    []string `yaml:"market_ids"`
		EventTypeIDs []string `yaml:"event_type_ids"`
		MarketTypes  []string `yaml:"market_types"`
		CountryCodes []string `yaml:"country_codes"`
		Fields       []string `yaml:"fields"`
		LadderLevels int      `yaml:"ladder_levels"`
		Orders       bool     `yaml:"orders"`
	} `yaml:"subscription"`

	Cache struct {
		RemoveOnClose *bool `yaml:"remove_on_close"`
	} `yaml:"cache"`

	Recorder struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"recorder"`

	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	HTTP struct {
		Addr string `yaml:"addr"` // snapshot API and /metrics; empty disables
	} `yaml:"http"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%s: %w", path, err)}
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Stream.Host == "" {
		c.Stream.Host = DefaultStreamHost
	}
	if c.Stream.Port == 0 {
		c.Stream.Port = 443
	}
	if c.Stream.KeepAliveSec == 0 {
		c.Stream.KeepAliveSec = 60
	}
	if c.Stream.DialTimeoutSec == 0 {
		c.Stream.DialTimeoutSec = 15
	}
	if c.Auth.SSOHost == "" {
		c.Auth.SSOHost = DefaultSSOHost
	}
	if c.Auth.SessionExpireHours == 0 {
		c.Auth.SessionExpireHours = 3
	}
	if c.Cache.RemoveOnClose == nil {
		removeOnClose := true
		c.Cache.RemoveOnClose = &removeOnClose
	}
	if c.Recorder.Path == "" {
		c.Recorder.Path = "data/frames.db"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Auth.AppKey == "" {
		return &domain.ConfigError{Field: "auth.app_key", Err: errors.New("app key is required")}
	}
	if c.Auth.SessionToken == "" && (c.Auth.Username == "" || c.Auth.Password == "") {
		return &domain.ConfigError{Field: "auth", Err: errors.New("either session_token or username/password is required")}
	}
	if c.Stream.WSURL != "" && !strings.HasPrefix(c.Stream.WSURL, "ws://") && !strings.HasPrefix(c.Stream.WSURL, "wss://") {
		return &domain.ConfigError{Field: "stream.ws_url", Err: fmt.Errorf("invalid websocket URL: %s", c.Stream.WSURL)}
	}
	if c.Stream.Port <= 0 || c.Stream.Port > 65535 {
		return &domain.ConfigError{Field: "stream.port", Err: fmt.Errorf("out of range: %d", c.Stream.Port)}
	}
	if c.Stream.KeepAliveSec < 0 {
		return &domain.ConfigError{Field: "stream.keep_alive_sec", Err: errors.New("must not be negative")}
	}
	if c.Subscription.LadderLevels < 0 || c.Subscription.LadderLevels > 10 {
		return &domain.ConfigError{Field: "subscription.ladder_levels", Err: fmt.Errorf("must be within 0..10, got %d", c.Subscription.LadderLevels)}
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return &domain.ConfigError{Field: "kafka", Err: errors.New("brokers and topic are required when enabled")}
	}
	return nil
}

// StreamAddr returns host:port of the stream endpoint.
func (c *Config) StreamAddr() string {
	return fmt.Sprintf("%s:%d", c.Stream.Host, c.Stream.Port)
}

// KeepAlive returns the idle interval after which a heartbeat is sent.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.Stream.KeepAliveSec) * time.Second
}

// DialTimeout bounds connection establishment.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Stream.DialTimeoutSec) * time.Second
}

// SessionExpire returns how long a login session token is reused.
func (c *Config) SessionExpire() time.Duration {
	return time.Duration(c.Auth.SessionExpireHours) * time.Hour
}

// overrideWithEnv replaces secrets with environment values when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("ESA_APP_KEY"); key != "" {
		cfg.Auth.AppKey = key
	}
	if user := os.Getenv("ESA_USERNAME"); user != "" {
		cfg.Auth.Username = user
	}
	if pass := os.Getenv("ESA_PASSWORD"); pass != "" {
		cfg.Auth.Password = pass
	}
	if token := os.Getenv("ESA_SESSION_TOKEN"); token != "" {
		cfg.Auth.SessionToken = token
	}
}
