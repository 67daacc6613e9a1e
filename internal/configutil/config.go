package configutil

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"pricetracker-backend/internal/components/telemetry"
	"pricetracker-backend/internal/fetch"
	"pricetracker-backend/internal/notify"
	"pricetracker-backend/internal/tracker"
)

const DefaultConfigName = "config.json5"

const (
	EnvHeadersApiKey = "SCRAPEOPS_API_KEY"
	EnvSmtpPassword  = "SMTP_PASSWORD"
	EnvDatabaseUrl   = "PRICETRACKER_DB"
)

type DatabaseConfig struct {
	Url string `json:"url"`
}

type FetchConfig struct {
	RetryLimit            int     `json:"retry_limit"`
	AntiBotCheck          *bool   `json:"anti_bot_check"`
	UseBrowserHeaders     *bool   `json:"use_browser_headers"`
	ConnectTimeoutSeconds int     `json:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int     `json:"read_timeout_seconds"`
	RequestsPerSecond     float64 `json:"requests_per_second"`
}

type HeadersConfig struct {
	ApiKey     string `json:"api_key"`
	Endpoint   string `json:"endpoint"`
	NumResults int    `json:"num_results"`
}

type SmtpConfig struct {
	Server         string `json:"server"`
	Port           int    `json:"port"`
	Address        string `json:"address"`
	Password       string `json:"password"`
	FromName       string `json:"from_name"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type ScrapeConfig struct {
	MinDelaySeconds      int `json:"min_delay_seconds"`
	MaxDelaySeconds      int `json:"max_delay_seconds"`
	DefaultIntervalHours int `json:"default_interval_hours"`
}

type Config struct {
	Database  DatabaseConfig   `json:"database"`
	Fetch     FetchConfig      `json:"fetch"`
	Headers   HeadersConfig    `json:"headers"`
	Smtp      SmtpConfig       `json:"smtp"`
	Scrape    ScrapeConfig     `json:"scrape"`
	Telemetry telemetry.Config `json:"telemetry"`
	Debug     *bool            `json:"debug"`
}

// Load reads .env, then the config file at path (or the nearest config.json5
// when path is empty), fills in defaults and applies environment overrides.
// A missing config file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var (
		config Config
		err    error
	)
	if path != "" {
		config, err = ReadConfig[Config](path)
	} else {
		config, _, err = ReadRecursively[Config](DefaultConfigName)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	config.setDefaults()
	config.applyEnv()
	return config, nil
}

func (c *Config) setDefaults() {
	if c.Database.Url == "" {
		c.Database.Url = "pricetracker.db"
	}
	if c.Fetch.RetryLimit <= 0 {
		c.Fetch.RetryLimit = 5
	}
	if c.Fetch.UseBrowserHeaders == nil {
		enabled := true
		c.Fetch.UseBrowserHeaders = &enabled
	}
	if c.Fetch.ConnectTimeoutSeconds <= 0 {
		c.Fetch.ConnectTimeoutSeconds = 10
	}
	if c.Fetch.ReadTimeoutSeconds <= 0 {
		c.Fetch.ReadTimeoutSeconds = 30
	}
	if c.Fetch.RequestsPerSecond <= 0 {
		c.Fetch.RequestsPerSecond = 0.5
	}
	if c.Headers.Endpoint == "" {
		c.Headers.Endpoint = fetch.DefaultHeadersEndpoint
	}
	if c.Headers.NumResults <= 0 {
		c.Headers.NumResults = 20
	}
	if c.Smtp.Port <= 0 {
		c.Smtp.Port = 587
	}
	if c.Smtp.TimeoutSeconds <= 0 {
		c.Smtp.TimeoutSeconds = 30
	}
	if c.Scrape.MinDelaySeconds <= 0 {
		c.Scrape.MinDelaySeconds = 3
	}
	if c.Scrape.MaxDelaySeconds < c.Scrape.MinDelaySeconds {
		c.Scrape.MaxDelaySeconds = max(10, c.Scrape.MinDelaySeconds)
	}
	if c.Scrape.DefaultIntervalHours <= 0 {
		c.Scrape.DefaultIntervalHours = 48
	}
}

func (c *Config) applyEnv() {
	if value := strings.TrimSpace(os.Getenv(EnvHeadersApiKey)); value != "" {
		c.Headers.ApiKey = value
	}
	if value := os.Getenv(EnvSmtpPassword); value != "" {
		c.Smtp.Password = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvDatabaseUrl)); value != "" {
		c.Database.Url = value
	}
}

func (c Config) FetchOptions(headers *fetch.HeaderPool) fetch.Options {
	opts := fetch.Options{
		RetryLimit:        c.Fetch.RetryLimit,
		ConnectTimeout:    time.Duration(c.Fetch.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(c.Fetch.ReadTimeoutSeconds) * time.Second,
		RequestsPerSecond: c.Fetch.RequestsPerSecond,
		AntiBotCheck:      enabled(c.Fetch.AntiBotCheck),
	}
	if enabled(c.Fetch.UseBrowserHeaders) {
		opts.Headers = headers
	}
	return opts
}

func enabled(flag *bool) bool {
	return flag != nil && *flag
}

func (c Config) DebugEnabled() bool {
	return enabled(c.Debug)
}

func (c Config) UseBrowserHeaders() bool {
	return enabled(c.Fetch.UseBrowserHeaders)
}

func (c Config) HeaderSourceOptions() fetch.HeaderSourceOptions {
	return fetch.HeaderSourceOptions{
		Endpoint:   c.Headers.Endpoint,
		ApiKey:     c.Headers.ApiKey,
		NumResults: c.Headers.NumResults,
	}
}

func (c Config) SmtpOptions() notify.SmtpConfig {
	return notify.SmtpConfig{
		Server:   c.Smtp.Server,
		Port:     c.Smtp.Port,
		Address:  c.Smtp.Address,
		Password: c.Smtp.Password,
		FromName: c.Smtp.FromName,
		Timeout:  time.Duration(c.Smtp.TimeoutSeconds) * time.Second,
	}
}

func (c Config) TrackerOptions() tracker.Options {
	return tracker.Options{
		MinDelay: time.Duration(c.Scrape.MinDelaySeconds) * time.Second,
		MaxDelay: time.Duration(c.Scrape.MaxDelaySeconds) * time.Second,
	}
}

func (c Config) DefaultInterval() time.Duration {
	return time.Duration(c.Scrape.DefaultIntervalHours) * time.Hour
}
