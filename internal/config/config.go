package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

type EventsSource string

const (
	SourceMeetup   EventsSource = "meetup"
	SourceFacebook EventsSource = "facebook"
)

type StorageDriver string

const (
	DriverSQLite StorageDriver = "sqlite"
	DriverFile   StorageDriver = "file"
)

type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN" yaml:"telegram_bot_token"`
	AdminUsers       []int64 `env:"ADMIN_USERS" envSeparator:":" yaml:"admin_users"`

	// Storage
	StorageDriver StorageDriver `env:"STORAGE_DRIVER" envDefault:"sqlite" yaml:"storage_driver"`
	DatabasePath  string        `env:"DATABASE_PATH" envDefault:"data/bot.db" yaml:"database_path"`
	StateFilePath string        `env:"STATE_FILE_PATH" envDefault:"data/states.json" yaml:"state_file_path"`

	// Event feeds
	EventsSource   EventsSource  `env:"EVENTS_SOURCE" envDefault:"meetup" yaml:"events_source"`
	GroupNames     []string      `env:"GROUP_NAMES" envSeparator:"," yaml:"group_names"`
	MeetupKey      string        `env:"MEETUP_KEY" yaml:"meetup_key"`
	MeetupAPIURL   string        `env:"MEETUP_API_URL" envDefault:"https://api.meetup.com" yaml:"meetup_api_url"`
	FacebookKey    string        `env:"FACEBOOK_KEY" yaml:"facebook_key"`
	FacebookAPIURL string        `env:"FACEBOOK_API_URL" envDefault:"https://graph.facebook.com/v2.8" yaml:"facebook_api_url"`
	EventsListSize int           `env:"EVENTS_LIST_SIZE" envDefault:"5" yaml:"events_list_size"`
	EventsCacheTTL time.Duration `env:"EVENTS_CACHE_TTL" envDefault:"60s" yaml:"events_cache_ttl"`
	Timezone       string        `env:"TIMEZONE" envDefault:"America/Maceio" yaml:"timezone"`

	// Free book
	BookAPIURL     string        `env:"BOOK_API_URL" envDefault:"https://services.packtpub.com/free-learning-v1/offers" yaml:"book_api_url"`
	BookSummaryURL string        `env:"BOOK_SUMMARY_URL" envDefault:"https://static.packt-cdn.com/products/%s/summary" yaml:"book_summary_url"`
	BookCacheTTL   time.Duration `env:"BOOK_CACHE_TTL" envDefault:"10m" yaml:"book_cache_ttl"`

	// URL shortener, disabled without a key
	URLShortenerKey      string `env:"URL_SHORTENER_KEY" yaml:"url_shortener_key"`
	URLShortenerEndpoint string `env:"URL_SHORTENER_ENDPOINT" envDefault:"https://www.googleapis.com/urlshortener/v1/url" yaml:"url_shortener_endpoint"`

	// Chat behaviour
	CommandCooldown time.Duration `env:"COMMAND_COOLDOWN" envDefault:"1m" yaml:"command_cooldown"`

	// Scheduler (cron specs, empty disables the job)
	StateFlushSpec   string `env:"STATE_FLUSH_SPEC" envDefault:"@every 5m" yaml:"state_flush_spec"`
	EventsWarmupSpec string `env:"EVENTS_WARMUP_SPEC" envDefault:"@every 30m" yaml:"events_warmup_spec"`
	ReportSpec       string `env:"REPORT_SPEC" envDefault:"0 21 * * *" yaml:"report_spec"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
}

// Load reads the environment and then overlays the YAML file at path, if
// any. Keys present in the file win over the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverSQLite, DriverFile:
	default:
		return fmt.Errorf("unknown storage driver: %s", c.StorageDriver)
	}
	switch c.EventsSource {
	case SourceMeetup, SourceFacebook:
	default:
		return fmt.Errorf("unknown events source: %s", c.EventsSource)
	}
	if c.EventsListSize <= 0 {
		return errors.New("events list size must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
