package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Mail      MailConfig                `json:"mail" yaml:"mail"`
	SMTP      SMTPConfig                `json:"smtp" yaml:"smtp"`
	Notify    NotifyConfig              `json:"notify" yaml:"notify"`
	Scan      ScanConfig                `json:"scan" yaml:"scan"`
	Scheduler SchedulerConfig           `json:"scheduler" yaml:"scheduler"`
}

type AppConfig struct {
	Name      string `json:"name" yaml:"name"`
	Workspace string `json:"workspace" yaml:"workspace"`
	Prompts   string `json:"prompts" yaml:"prompts"`
	LogDir    string `json:"log_dir" yaml:"log_dir"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	// AllowedChats limits who may talk to the bot; empty allows everyone.
	AllowedChats []int64 `json:"allowed_chats,omitempty" yaml:"allowed_chats,omitempty"`
}

type ProviderConfig struct {
	APIKey         string  `json:"api_key" yaml:"api_key"`
	Model          string  `json:"model" yaml:"model"`
	EmbeddingModel string  `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	BaseURL        string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSec float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

type MailConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	Username       string `json:"username" yaml:"username"`
	Password       string `json:"password" yaml:"password"`
	Mailbox        string `json:"mailbox" yaml:"mailbox"`
	AttachmentsDir string `json:"attachments_dir" yaml:"attachments_dir"`
	// Folders maps an inbox label (primary, promotions, social, updates,
	// forums) to a mailbox name.
	Folders map[string]string `json:"folders,omitempty" yaml:"folders,omitempty"`
}

type SMTPConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
}

type NotifyConfig struct {
	// ResponseChannel receives pushed copies of substantial responses.
	ResponseChannel string `json:"response_channel" yaml:"response_channel"`
	ReminderChannel string `json:"reminder_channel" yaml:"reminder_channel"`
	// Recipients maps a channel name to its default recipient.
	Recipients map[string]string `json:"recipients" yaml:"recipients"`
	DaysBefore []int             `json:"days_before" yaml:"days_before"`
}

type ScanConfig struct {
	Days        int                 `json:"days" yaml:"days"`
	MaxResults  int                 `json:"max_results" yaml:"max_results"`
	BatchSize   int                 `json:"batch_size" yaml:"batch_size"`
	Concurrency int                 `json:"concurrency" yaml:"concurrency"`
	TopK        int                 `json:"top_k" yaml:"top_k"`
	Keywords    map[string][]string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

type SchedulerConfig struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`
}

// envOverrides maps secret environment variables onto config fields.
var envOverrides = []struct {
	name  string
	apply func(c *Config, v string)
}{
	{"OPENAI_API_KEY", func(c *Config, v string) { c.setProviderKey("openai", v) }},
	{"OPENROUTER_API_KEY", func(c *Config, v string) { c.setProviderKey("openrouter", v) }},
	{"MAIL_PASSWORD", func(c *Config, v string) { c.Mail.Password = v }},
	{"SMTP_PASSWORD", func(c *Config, v string) { c.SMTP.Password = v }},
	{"TELEGRAM_BOT_TOKEN", func(c *Config, v string) { c.setGatewayToken("telegram", v) }},
	{"DISCORD_BOT_TOKEN", func(c *Config, v string) { c.setGatewayToken("discord", v) }},
}

func (c *Config) setProviderKey(name, key string) {
	p := c.Providers[name]
	p.APIKey = key
	c.Providers[name] = p
}

func (c *Config) setGatewayToken(name, token string) {
	g := c.Gateways[name]
	g.Token = token
	c.Gateways[name] = g
}

// Load reads a JSON or YAML config file (by extension), then applies
// defaults and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)
	return &cfg, nil
}

func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "billagent"
	}
	if c.App.Workspace == "" {
		c.App.Workspace = "./workspace"
	}
	if c.App.Prompts == "" {
		c.App.Prompts = "./prompts"
	}
	if c.App.LogDir == "" {
		c.App.LogDir = "logs"
	}
	if c.Gateways == nil {
		c.Gateways = map[string]GatewayConfig{}
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.App.Workspace, "billagent.db")
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 993
	}
	if c.Mail.Mailbox == "" {
		c.Mail.Mailbox = "INBOX"
	}
	if c.Mail.AttachmentsDir == "" {
		c.Mail.AttachmentsDir = filepath.Join(c.App.Workspace, "attachments")
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Notify.ReminderChannel == "" {
		c.Notify.ReminderChannel = "email"
	}
	if c.Notify.Recipients == nil {
		c.Notify.Recipients = map[string]string{}
	}
	if len(c.Notify.DaysBefore) == 0 {
		c.Notify.DaysBefore = []int{3, 1}
	}
	if c.Scan.Days <= 0 {
		c.Scan.Days = 30
	}
	if c.Scan.MaxResults <= 0 {
		c.Scan.MaxResults = 50
	}
	if c.Scan.BatchSize <= 0 {
		c.Scan.BatchSize = 10
	}
	if c.Scan.Concurrency <= 0 {
		c.Scan.Concurrency = 2
	}
	if c.Scan.TopK <= 0 {
		c.Scan.TopK = 10
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		c.Scheduler.IntervalSeconds = 60
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	for _, o := range envOverrides {
		if v := getenv(o.name); v != "" {
			o.apply(c, v)
		}
	}
}

// GetDefaultProvider returns the first enabled provider, by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}

// Recipient is the default recipient for a notification channel.
func (c *Config) Recipient(channel string) string {
	return c.Notify.Recipients[channel]
}
