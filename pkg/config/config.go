package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the sync engine, the inspect API and the relay.
// Precedence: defaults, then the optional YAML file named by CHATSYNC_CONFIG,
// then environment variables (a .env file is loaded into the environment first).
type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`

	APIBaseURL   string `yaml:"api_base_url" env:"CHATSYNC_API_BASE_URL"`
	WSPath       string `yaml:"ws_path" env:"CHATSYNC_WS_PATH"`
	UserID       string `yaml:"user_id" env:"CHATSYNC_USER_ID"`
	AccessToken  string `yaml:"access_token" env:"CHATSYNC_ACCESS_TOKEN"`
	RefreshToken string `yaml:"refresh_token" env:"CHATSYNC_REFRESH_TOKEN"`

	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"CHATSYNC_RECONNECT_DELAY"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay" env:"CHATSYNC_RECONNECT_MAX_DELAY"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" env:"CHATSYNC_HANDSHAKE_TIMEOUT"`
	PingPeriod        time.Duration `yaml:"ping_period" env:"CHATSYNC_PING_PERIOD"`
	PongWait          time.Duration `yaml:"pong_wait" env:"CHATSYNC_PONG_WAIT"`
	WriteWait         time.Duration `yaml:"write_wait" env:"CHATSYNC_WRITE_WAIT"`
	AckTimeout        time.Duration `yaml:"ack_timeout" env:"CHATSYNC_ACK_TIMEOUT"`
	TypingExpiry      time.Duration `yaml:"typing_expiry" env:"CHATSYNC_TYPING_EXPIRY"`
	TypingQuiet       time.Duration `yaml:"typing_quiet" env:"CHATSYNC_TYPING_QUIET"`
	TypingHeartbeat   time.Duration `yaml:"typing_heartbeat" env:"CHATSYNC_TYPING_HEARTBEAT"`
	TokenRefreshSkew  time.Duration `yaml:"token_refresh_skew" env:"CHATSYNC_TOKEN_REFRESH_SKEW"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" env:"CHATSYNC_HTTP_TIMEOUT"`

	StorePath   string `yaml:"store_path" env:"CHATSYNC_STORE_PATH"`
	InspectAddr string `yaml:"inspect_addr" env:"CHATSYNC_INSPECT_ADDR"`

	RelayAddr        string        `yaml:"relay_addr" env:"RELAY_ADDR"`
	RelayJWTSecret   string        `yaml:"relay_jwt_secret" env:"RELAY_JWT_SECRET"`
	RelayTokenTTL    time.Duration `yaml:"relay_token_ttl" env:"RELAY_TOKEN_TTL"`
	RelayFrameRate   float64       `yaml:"relay_frame_rate" env:"RELAY_FRAME_RATE"`
	RelayFrameBurst  int           `yaml:"relay_frame_burst" env:"RELAY_FRAME_BURST"`
	RelayMaxFrameLen int64         `yaml:"relay_max_frame_len" env:"RELAY_MAX_FRAME_LEN"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",

		APIBaseURL: "http://localhost:8080",
		WSPath:     "/ws",

		ReconnectDelay:    2 * time.Second,
		ReconnectMaxDelay: 0,
		HandshakeTimeout:  10 * time.Second,
		PingPeriod:        54 * time.Second,
		PongWait:          60 * time.Second,
		WriteWait:         10 * time.Second,
		AckTimeout:        8 * time.Second,
		TypingExpiry:      3 * time.Second,
		TypingQuiet:       1500 * time.Millisecond,
		TypingHeartbeat:   time.Second,
		TokenRefreshSkew:  30 * time.Second,
		HTTPTimeout:       15 * time.Second,

		InspectAddr: "127.0.0.1:8090",

		RelayAddr:        ":8080",
		RelayJWTSecret:   "your-secret-key",
		RelayTokenTTL:    24 * time.Hour,
		RelayFrameRate:   40,
		RelayFrameBurst:  80,
		RelayMaxFrameLen: 16 * 1024,
	}
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CHATSYNC_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ReconnectDelay <= 0:
		return fmt.Errorf("reconnect delay must be positive")
	case c.AckTimeout <= 0:
		return fmt.Errorf("ack timeout must be positive")
	case c.TypingExpiry <= 0 || c.TypingQuiet <= 0:
		return fmt.Errorf("typing windows must be positive")
	case c.PingPeriod >= c.PongWait:
		return fmt.Errorf("ping period must be shorter than pong wait")
	}
	return nil
}
