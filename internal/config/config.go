package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tailscale/hujson"
)

// Config holds runtime configuration values for the wiki server.
type Config struct {
	DataDir        string
	HistoryDBPath  string
	ActiveWikiPath string
	ServerPort     int
	LogLevel       string
	SignalingURL   string
	ShareBaseURL   string
	SentryDSN      string
	Environment    string
	WikiToken      string
	Offline        bool
	ReconnectDelay time.Duration
	RateLimitBurst int
	RateLimitRate  float64
	ShutdownGrace  time.Duration
	RefreshDelay   time.Duration

	shareDerived bool
}

const (
	defaultDataDir        = "./data"
	defaultServerPort     = 8080
	defaultLogLevel       = "info"
	defaultEnvironment    = "development"
	defaultSignalingURL   = "ws://localhost:8081"
	defaultReconnectDelay = 5 * time.Second
	defaultRateLimitBurst = 60
	defaultRateLimitRate  = 1.0
	defaultShutdownGrace  = 10 * time.Second
	defaultRefreshDelay   = 250 * time.Millisecond
)

// fileConfig mirrors the optional CONFIG_FILE document. Every field is
// optional; absent fields keep their defaults.
type fileConfig struct {
	DataDir        *string  `json:"data_dir"`
	HistoryDBPath  *string  `json:"history_db_path"`
	ActiveWikiPath *string  `json:"active_wiki_path"`
	ServerPort     *int     `json:"server_port"`
	LogLevel       *string  `json:"log_level"`
	SignalingURL   *string  `json:"signaling_url"`
	ShareBaseURL   *string  `json:"share_base_url"`
	SentryDSN      *string  `json:"sentry_dsn"`
	Environment    *string  `json:"env"`
	WikiToken      *string  `json:"wiki_token"`
	Offline        *bool    `json:"offline"`
	ReconnectDelay *string  `json:"reconnect_delay"`
	RateLimitBurst *int     `json:"rate_limit_burst"`
	RateLimitRate  *float64 `json:"rate_limit_per_second"`
	RefreshDelay   *string  `json:"refresh_debounce"`
}

// Flags carries command line overrides. Nil fields keep the loaded value.
type Flags struct {
	Token   *string
	Offline *bool
	Port    *int
}

// Load builds the configuration from defaults, then the JSON-with-comments
// file named by CONFIG_FILE when set, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = filepath.Join(cfg.DataDir, "history.db")
	}
	if cfg.ActiveWikiPath == "" {
		cfg.ActiveWikiPath = filepath.Join(cfg.DataDir, "active-wiki")
	}
	if cfg.ShareBaseURL == "" {
		cfg.ShareBaseURL = defaultShareBaseURL(cfg.ServerPort)
		cfg.shareDerived = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Apply layers command line overrides on top of the loaded configuration and
// validates the result. A share link derived from the port follows a port
// override.
func (c *Config) Apply(flags Flags) error {
	if flags.Token != nil {
		c.WikiToken = strings.TrimSpace(*flags.Token)
	}
	if flags.Offline != nil {
		c.Offline = *flags.Offline
	}
	if flags.Port != nil {
		c.ServerPort = *flags.Port
		if c.shareDerived {
			c.ShareBaseURL = defaultShareBaseURL(c.ServerPort)
		}
	}
	return c.Validate()
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return eris.Errorf("server port out of range: %d", c.ServerPort)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return eris.New("data directory is required")
	}
	if !c.Offline && !strings.HasPrefix(c.SignalingURL, "ws://") && !strings.HasPrefix(c.SignalingURL, "wss://") {
		return eris.Errorf("signaling url must use ws or wss: %q", c.SignalingURL)
	}
	if c.RateLimitBurst < 0 || c.RateLimitRate < 0 {
		return eris.New("rate limit settings must not be negative")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		DataDir:        defaultDataDir,
		ServerPort:     defaultServerPort,
		LogLevel:       defaultLogLevel,
		Environment:    defaultEnvironment,
		SignalingURL:   defaultSignalingURL,
		ReconnectDelay: defaultReconnectDelay,
		RateLimitBurst: defaultRateLimitBurst,
		RateLimitRate:  defaultRateLimitRate,
		ShutdownGrace:  defaultShutdownGrace,
		RefreshDelay:   defaultRefreshDelay,
	}
}

func defaultShareBaseURL(port int) string {
	return "http://localhost:" + strconv.Itoa(port) + "/"
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "reading config file: %s", path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return eris.Wrapf(err, "invalid JSONC in config file: %s", path)
	}

	var file fileConfig
	if err := json.Unmarshal(standardized, &file); err != nil {
		return eris.Wrapf(err, "decoding config file: %s", path)
	}

	setString(&cfg.DataDir, file.DataDir)
	setString(&cfg.HistoryDBPath, file.HistoryDBPath)
	setString(&cfg.ActiveWikiPath, file.ActiveWikiPath)
	setString(&cfg.LogLevel, file.LogLevel)
	setString(&cfg.SignalingURL, file.SignalingURL)
	setString(&cfg.ShareBaseURL, file.ShareBaseURL)
	setString(&cfg.SentryDSN, file.SentryDSN)
	setString(&cfg.Environment, file.Environment)
	setString(&cfg.WikiToken, file.WikiToken)

	if file.ServerPort != nil {
		cfg.ServerPort = *file.ServerPort
	}
	if file.Offline != nil {
		cfg.Offline = *file.Offline
	}
	if file.RateLimitBurst != nil {
		cfg.RateLimitBurst = *file.RateLimitBurst
	}
	if file.RateLimitRate != nil {
		cfg.RateLimitRate = *file.RateLimitRate
	}
	if file.ReconnectDelay != nil {
		delay, err := time.ParseDuration(*file.ReconnectDelay)
		if err != nil {
			return eris.Wrapf(err, "invalid reconnect_delay in config file: %s", *file.ReconnectDelay)
		}
		cfg.ReconnectDelay = delay
	}
	if file.RefreshDelay != nil {
		delay, err := time.ParseDuration(*file.RefreshDelay)
		if err != nil {
			return eris.Wrapf(err, "invalid refresh_debounce in config file: %s", *file.RefreshDelay)
		}
		cfg.RefreshDelay = delay
	}

	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.HistoryDBPath = getEnv("HISTORY_DB_PATH", cfg.HistoryDBPath)
	cfg.ActiveWikiPath = getEnv("ACTIVE_WIKI_PATH", cfg.ActiveWikiPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SignalingURL = getEnv("SIGNALING_URL", cfg.SignalingURL)
	cfg.ShareBaseURL = getEnv("SHARE_BASE_URL", cfg.ShareBaseURL)
	cfg.SentryDSN = getEnv("SENTRY_DSN", cfg.SentryDSN)
	cfg.Environment = getEnv("ENV", cfg.Environment)
	cfg.WikiToken = getEnv("WIKI_TOKEN", cfg.WikiToken)

	if value := os.Getenv("SERVER_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return eris.Wrapf(err, "invalid SERVER_PORT value: %s", value)
		}
		cfg.ServerPort = port
	}

	if value := os.Getenv("OFFLINE"); value != "" {
		offline, err := strconv.ParseBool(value)
		if err != nil {
			return eris.Wrapf(err, "invalid OFFLINE value: %s", value)
		}
		cfg.Offline = offline
	}

	if value := os.Getenv("SIGNALING_RECONNECT_DELAY"); value != "" {
		delay, err := time.ParseDuration(value)
		if err != nil {
			return eris.Wrapf(err, "invalid SIGNALING_RECONNECT_DELAY value: %s", value)
		}
		cfg.ReconnectDelay = delay
	}

	if value := os.Getenv("REFRESH_DEBOUNCE"); value != "" {
		delay, err := time.ParseDuration(value)
		if err != nil {
			return eris.Wrapf(err, "invalid REFRESH_DEBOUNCE value: %s", value)
		}
		cfg.RefreshDelay = delay
	}

	if value := os.Getenv("RATE_LIMIT_BURST"); value != "" {
		burst, err := strconv.Atoi(value)
		if err != nil {
			return eris.Wrapf(err, "invalid RATE_LIMIT_BURST value: %s", value)
		}
		cfg.RateLimitBurst = burst
	}

	if value := os.Getenv("RATE_LIMIT_PER_SECOND"); value != "" {
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid RATE_LIMIT_PER_SECOND value: %s", value)
		}
		cfg.RateLimitRate = rate
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func setString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}
