package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the digest pipeline
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Arxiv    ArxivConfig    `mapstructure:"arxiv"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Push     PushConfig     `mapstructure:"push"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ArxivConfig controls which papers the fetch stage pulls in.
type ArxivConfig struct {
	APIURL          string   `mapstructure:"api_url"`
	Categories      []string `mapstructure:"categories"`
	IncludeKeywords []string `mapstructure:"include_keywords"`
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
	MaxPapersPerDay int      `mapstructure:"max_papers_per_day"`
	TimeWindowHours int      `mapstructure:"time_window_hours"`
}

// Normalize applies defaults for unset arXiv values.
func (a ArxivConfig) Normalize() ArxivConfig {
	if strings.TrimSpace(a.APIURL) == "" {
		a.APIURL = "https://export.arxiv.org/api/query"
	}
	if len(a.Categories) == 0 {
		a.Categories = []string{"cs.CL", "cs.AI"}
	}
	if a.MaxPapersPerDay <= 0 {
		a.MaxPapersPerDay = 50
	}
	if a.TimeWindowHours <= 0 {
		a.TimeWindowHours = 72
	}
	return a
}

func (a ArxivConfig) Validate() error {
	if a.MaxPapersPerDay > 500 {
		return fmt.Errorf("arxiv.max_papers_per_day must be <= 500")
	}
	if a.TimeWindowHours > 168 {
		return fmt.Errorf("arxiv.time_window_hours must be <= 168")
	}
	return nil
}

// LLMConfig contains the chat-completions gateway settings
type LLMConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Model              string        `mapstructure:"model"`
	APIKey             string        `mapstructure:"api_key"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	MaxRetries         int           `mapstructure:"max_retries"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset LLM values.
func (l LLMConfig) Normalize() LLMConfig {
	if l.MaxConcurrency <= 0 {
		l.MaxConcurrency = 4
	}
	if l.RateLimitPerMinute <= 0 {
		l.RateLimitPerMinute = 30
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = 3
	}
	if l.Timeout <= 0 {
		l.Timeout = 2 * time.Minute
	}
	return l
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.BaseURL) == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.MaxConcurrency > 32 {
		return fmt.Errorf("llm.max_concurrency must be <= 32")
	}
	if l.RateLimitPerMinute > 600 {
		return fmt.Errorf("llm.rate_limit_per_minute must be <= 600")
	}
	return nil
}

// StorageConfig contains database and digest output locations
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	OutputDir string `mapstructure:"output_dir"`
}

// Normalize resolves relative storage paths against the working directory.
func (s StorageConfig) Normalize() StorageConfig {
	if strings.TrimSpace(s.DBPath) == "" {
		s.DBPath = filepath.Join("data", "arxivd.db")
	}
	if strings.TrimSpace(s.OutputDir) == "" {
		s.OutputDir = filepath.Dir(s.DBPath)
	}
	return s
}

// PushConfig groups outbound delivery channels
type PushConfig struct {
	Channels []string       `mapstructure:"channels"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	QQ       QQConfig       `mapstructure:"qq"`
}

// Normalize lower-cases and deduplicates the channel list.
func (p PushConfig) Normalize() PushConfig {
	seen := make(map[string]struct{}, len(p.Channels))
	var dedup []string
	for _, ch := range p.Channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch == "" {
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		dedup = append(dedup, ch)
	}
	p.Channels = dedup
	return p
}

// EmailConfig contains SMTP delivery settings
type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// Configured reports whether the channel has enough settings to send.
func (e EmailConfig) Configured() bool {
	return e.SMTPHost != "" && e.From != "" && e.To != ""
}

// TelegramConfig contains bot API delivery settings
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func (t TelegramConfig) Configured() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// QQConfig contains OneBot v11 HTTP API delivery settings
type QQConfig struct {
	APIURL  string `mapstructure:"api_url"`
	GroupID string `mapstructure:"group_id"`
	Token   string `mapstructure:"token"`
	BotName string `mapstructure:"bot_name"`
}

func (q QQConfig) Configured() bool {
	return q.APIURL != "" && q.GroupID != ""
}

// Normalize applies the default bot display name.
func (q QQConfig) Normalize() QQConfig {
	if strings.TrimSpace(q.BotName) == "" {
		q.BotName = "arXiv Daily"
	}
	return q
}

// ScheduleConfig defines when the daily pipeline fires
type ScheduleConfig struct {
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

// Normalize applies the default daily trigger.
func (s ScheduleConfig) Normalize() ScheduleConfig {
	if strings.TrimSpace(s.Cron) == "" {
		s.Cron = "30 8 * * *"
	}
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = "UTC"
	}
	return s
}

func (s ScheduleConfig) Validate() error {
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

// Location resolves the configured timezone. Validate must have passed.
func (s ScheduleConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("llm.max_concurrency", 4)
	viper.SetDefault("llm.rate_limit_per_minute", 30)
	viper.SetDefault("schedule.cron", "30 8 * * *")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ARXIVD")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (ARXIVD_*)

	if err := viper.ReadInConfig(); err != nil {
		// Env-only operation is fine; anything else is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Arxiv = config.Arxiv.Normalize()
	config.LLM = config.LLM.Normalize()
	config.Storage = config.Storage.Normalize()
	config.Push = config.Push.Normalize()
	config.Push.QQ = config.Push.QQ.Normalize()
	config.Schedule = config.Schedule.Normalize()

	if err := config.Arxiv.Validate(); err != nil {
		panic(err)
	}
	if err := config.Schedule.Validate(); err != nil {
		panic(err)
	}
	return &config
}
