package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultSettingsFile = "settings.json"
	EnvPrefix           = "REMINDER"
)

// Config aggregates all runtime settings of the engine.
type Config struct {
	NotificationMinutesBefore int           `mapstructure:"notification_minutes_before"`
	PollInterval              time.Duration `mapstructure:"poll_interval"`
	DueSoonWindow             time.Duration `mapstructure:"due_soon_window"`
	CommentMaxLength          int           `mapstructure:"comment_max_length"`
	ShutdownTimeout           time.Duration `mapstructure:"shutdown_timeout"`

	Storage  StorageConfig  `mapstructure:"storage"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	Dir           string `mapstructure:"dir"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	BoltPath      string `mapstructure:"bolt_path"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

type TelegramConfig struct {
	BotToken      string `mapstructure:"bot_token"`
	ChatID        string `mapstructure:"chat_id"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

// Enabled reports whether Telegram alerts are configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Storage backends selectable with storage.type.
const (
	StorageFile   = "file"
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageMongo  = "mongo"
	StorageBolt   = "bolt"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("notification_minutes_before", 15)
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("due_soon_window", time.Hour)
	v.SetDefault("comment_max_length", 100)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.type", StorageFile)
	v.SetDefault("storage.dir", ".")
	v.SetDefault("storage.sqlite_path", "reminders.db")
	v.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo_database", "reminders")
	v.SetDefault("storage.bolt_path", "reminders.bolt")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.rate_per_minute", 20)
}

// Load reads .env (if present), the settings file at path and REMINDER_*
// environment variables, in increasing order of precedence. A missing settings
// file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultSettingsFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.NotificationMinutesBefore < 0 {
		errs = append(errs, fmt.Errorf("notification_minutes_before must be >= 0, got %d", c.NotificationMinutesBefore))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.CommentMaxLength <= 0 {
		errs = append(errs, fmt.Errorf("comment_max_length must be positive, got %d", c.CommentMaxLength))
	}
	switch c.Storage.Type {
	case StorageFile, StorageMemory, StorageSQLite, StorageMongo, StorageBolt:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
