package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Discord Bot
	DiscordToken  string
	LeadChannelID string

	// Database; empty selects the in-memory store
	DatabaseURL string

	// Web Server
	WebBind     string
	AppURL      string
	JoinBaseURL string

	// Engine
	ScanInterval      time.Duration
	FollowUpTimeout   time.Duration
	NotifyRate        float64
	NotifyParallel    int
	DirectoryCacheTTL time.Duration

	LogLevel string
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:  os.Getenv("DISCORD_TOKEN"),
		LeadChannelID: os.Getenv("LEAD_CHANNEL_ID"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		WebBind:       getEnvDefault("WEB_BIND", "0.0.0.0:8000"),
		AppURL:        getEnvDefault("APP_URL", "https://anklavspace.netlify.app/"),
		JoinBaseURL:   strings.TrimRight(getEnvDefault("JOIN_BASE_URL", "https://app.com/join"), "/"),
		LogLevel:      strings.ToLower(getEnvDefault("LOG_LEVEL", "info")),
	}

	var err error
	if cfg.ScanInterval, err = getDuration("SCAN_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.FollowUpTimeout, err = getDuration("FOLLOWUP_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DirectoryCacheTTL, err = getDuration("DIRECTORY_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	rate := getEnvDefault("NOTIFY_RATE", "5")
	if cfg.NotifyRate, err = strconv.ParseFloat(rate, 64); err != nil || cfg.NotifyRate <= 0 {
		return nil, fmt.Errorf("NOTIFY_RATE must be a positive number, got %q", rate)
	}
	parallel := getEnvDefault("NOTIFY_PARALLEL", "4")
	if cfg.NotifyParallel, err = strconv.Atoi(parallel); err != nil || cfg.NotifyParallel <= 0 {
		return nil, fmt.Errorf("NOTIFY_PARALLEL must be a positive integer, got %q", parallel)
	}
	for _, u := range []struct{ key, value string }{{"APP_URL", cfg.AppURL}, {"JOIN_BASE_URL", cfg.JoinBaseURL}} {
		if !isAbsoluteURL(u.value) {
			return nil, fmt.Errorf("%s must be an absolute URL, got %q", u.key, u.value)
		}
	}

	return cfg, nil
}

// RequireBot checks the settings only the running bot needs.
func (c *Config) RequireBot() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if c.LeadChannelID == "" {
		return fmt.Errorf("LEAD_CHANNEL_ID is required")
	}
	return nil
}

// JoinLink is the invitation a member follows to answer in room roomID.
func (c *Config) JoinLink(roomID, member string) string {
	return fmt.Sprintf("%s/%s?name=%s", c.JoinBaseURL, url.PathEscape(roomID), url.QueryEscape(member))
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func isAbsoluteURL(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}
