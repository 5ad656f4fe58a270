// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/council-sessions/internal/dates"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Listing  ListingConfig  `mapstructure:"listing"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Details  DetailsConfig  `mapstructure:"details"`
	Download DownloadConfig `mapstructure:"download"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ListingConfig governs the discovery walk.
type ListingConfig struct {
	URL      string `mapstructure:"url"`
	MaxPages int    `mapstructure:"max_pages"`
	// StopDate is the YYYY-MM-DD watermark; empty disables early stopping.
	StopDate                  string   `mapstructure:"stop_date"`
	OptimizationThresholdDays int      `mapstructure:"optimization_threshold_days"`
	SessionPattern            string   `mapstructure:"session_pattern"`
	PaginationLabel           string   `mapstructure:"pagination_label"`
	NextKeywords              []string `mapstructure:"next_keywords"`
}

// HTTPConfig configures the shared fetch client.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageDelayMs    int    `mapstructure:"page_delay_ms"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// StorageConfig locates the session store file.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	Filename  string `mapstructure:"filename"`
}

// DetailsConfig controls detail extraction.
type DetailsConfig struct {
	FileURLPrefix string `mapstructure:"file_url_prefix"`
}

// DownloadConfig selects and places downloaded files.
type DownloadConfig struct {
	Patterns []string `mapstructure:"patterns"`
	// GCSBucket switches file storage from the output directory to a bucket.
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SESSIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listing.url", "https://www.vd.ch/actualites/decisions-du-conseil-detat")
	v.SetDefault("listing.max_pages", 100)
	v.SetDefault("listing.stop_date", "2024-01-01")
	v.SetDefault("listing.optimization_threshold_days", 30)
	v.SetDefault("listing.session_pattern", `Séance du Conseil d['’][EÉ]tat du (\d{1,2}\s+\S+\s+\d{4})`)
	v.SetDefault("listing.pagination_label", "Pagination")
	v.SetDefault("listing.next_keywords", []string{"suivante", "next"})
	v.SetDefault("http.user_agent", "council-sessions-bot/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.page_delay_ms", 1000)
	v.SetDefault("http.max_body_bytes", 50<<20)
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.filename", "storage.json")
	v.SetDefault("details.file_url_prefix", "https://sieldocs.vd.ch/ecm/app18/service/siel/getContent?ID=")
	v.SetDefault("download.patterns", []string{"_POS_"})
	v.SetDefault("download.gcs_bucket", "")
	v.SetDefault("download.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listing.URL) == "" {
		return fmt.Errorf("listing.url is required")
	}
	if c.Listing.MaxPages <= 0 {
		return fmt.Errorf("listing.max_pages must be > 0")
	}
	if c.Listing.OptimizationThresholdDays < 0 {
		return fmt.Errorf("listing.optimization_threshold_days must be >= 0")
	}
	if _, err := c.Watermark(); err != nil {
		return fmt.Errorf("listing.stop_date: %w", err)
	}
	re, err := regexp.Compile(c.Listing.SessionPattern)
	if err != nil {
		return fmt.Errorf("listing.session_pattern: %w", err)
	}
	if re.NumSubexp() != 1 {
		return fmt.Errorf("listing.session_pattern must have exactly one capture group")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.PageDelayMs < 0 {
		return fmt.Errorf("http.page_delay_ms must be >= 0")
	}
	if strings.TrimSpace(c.Storage.Filename) == "" {
		return fmt.Errorf("storage.filename is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Watermark parses the listing stop date. An empty value yields the zero Date.
func (c Config) Watermark() (dates.Date, error) {
	if strings.TrimSpace(c.Listing.StopDate) == "" {
		return dates.Date{}, nil
	}
	return dates.ParseISO(strings.TrimSpace(c.Listing.StopDate))
}

// Timeout converts the HTTP timeout into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PageDelay is the minimum spacing between requests to one host.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.HTTP.PageDelayMs) * time.Millisecond
}

// NotificationsEnabled reports whether walk summaries are published.
func (c Config) NotificationsEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
