package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Renderer names accepted by homeassistant.renderer.
const (
	RendererLocal  = "local"
	RendererRemote = "remote"
)

// Config holds the runtime configuration loaded from config.yaml.
type Config struct {
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Runner        RunnerConfig        `yaml:"runner"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Transports    []TransportConfig   `yaml:"transports"`
}

// HomeAssistantConfig points at the instance the automations are written for.
type HomeAssistantConfig struct {
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	ConfigDir       string `yaml:"config_dir"`
	AutomationsFile string `yaml:"automations_file"`
	// Renderer selects where the system prompt template is rendered: local or remote.
	Renderer       string `yaml:"renderer"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// ReloadTimeoutSeconds bounds the detached reload call.
	ReloadTimeoutSeconds int `yaml:"reload_timeout_seconds"`
}

// OpenAIConfig configures the chat completion client.
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RunnerConfig controls message handling.
type RunnerConfig struct {
	AllowedSenders        []string `yaml:"allowed_senders"`
	MaxReplyChars         int      `yaml:"max_reply_chars"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	HistoryLimit          int      `yaml:"history_limit"`
}

// StorageConfig controls persistence.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// TransportConfig describes one transport. Fields apply per type.
type TransportConfig struct {
	Type string `yaml:"type"`
	ID   string `yaml:"id"`

	// nostr
	Relays         []string `yaml:"relays,omitempty"`
	PrivateKey     string   `yaml:"private_key,omitempty"`
	AllowedPubkeys []string `yaml:"allowed_pubkeys,omitempty"`

	// http
	Listen string `yaml:"listen,omitempty"`
	Token  string `yaml:"token,omitempty"`
	// ReplyTimeoutSeconds defaults to the runner request timeout plus 30s.
	ReplyTimeoutSeconds int `yaml:"reply_timeout_seconds,omitempty"`

	// email
	Host        string `yaml:"host,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	Folder      string `yaml:"folder,omitempty"`
	SMTPHost    string `yaml:"smtp_host,omitempty"`
	SMTPPort    int    `yaml:"smtp_port,omitempty"`
	PollSeconds int    `yaml:"poll_seconds,omitempty"`
}

// Load reads, expands and validates configuration from the provided path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadBytes(raw, filepath.Dir(path))
}

// LoadBytes parses raw YAML, resolving relative paths against baseDir.
// ${VAR} references are expanded from the environment first.
func LoadBytes(raw []byte, baseDir string) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AutomationsPath is the automations file the merger writes.
func (c *Config) AutomationsPath() string {
	return filepath.Join(c.HomeAssistant.ConfigDir, c.HomeAssistant.AutomationsFile)
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.HomeAssistant.URL == "" {
		return errors.New("homeassistant.url is required")
	}
	if !strings.HasPrefix(c.HomeAssistant.URL, "http://") && !strings.HasPrefix(c.HomeAssistant.URL, "https://") {
		return errors.New("homeassistant.url must start with http:// or https://")
	}
	if c.HomeAssistant.Token == "" {
		return errors.New("homeassistant.token is required")
	}
	switch c.HomeAssistant.Renderer {
	case RendererLocal, RendererRemote:
	default:
		return fmt.Errorf("homeassistant.renderer must be %s or %s", RendererLocal, RendererRemote)
	}
	if c.OpenAI.APIKey == "" {
		return errors.New("openai.api_key is required")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.New("logging.format must be text or json")
	}
	if len(c.Transports) == 0 {
		return errors.New("at least one transport must be configured")
	}
	return c.ValidateTransports()
}

func (c *Config) applyDefaults(baseDir string) {
	ha := &c.HomeAssistant
	ha.URL = strings.TrimRight(ha.URL, "/")
	if ha.ConfigDir == "" {
		ha.ConfigDir = "/config"
	}
	ha.ConfigDir = resolvePath(baseDir, ha.ConfigDir)
	if ha.AutomationsFile == "" {
		ha.AutomationsFile = "automations.yaml"
	}
	if ha.Renderer == "" {
		ha.Renderer = RendererLocal
	}
	ha.Renderer = strings.ToLower(ha.Renderer)
	if ha.TimeoutSeconds == 0 {
		ha.TimeoutSeconds = 10
	}
	if ha.ReloadTimeoutSeconds == 0 {
		ha.ReloadTimeoutSeconds = 30
	}

	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.TimeoutSeconds == 0 {
		c.OpenAI.TimeoutSeconds = 60
	}

	if c.Runner.MaxReplyChars == 0 {
		c.Runner.MaxReplyChars = 4000
	}
	if c.Runner.RequestTimeoutSeconds == 0 {
		c.Runner.RequestTimeoutSeconds = 120
	}
	if c.Runner.HistoryLimit == 0 {
		c.Runner.HistoryLimit = 50
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "state.db"
	}
	c.Storage.Path = resolvePath(baseDir, c.Storage.Path)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.File != "" {
		c.Logging.File = resolvePath(baseDir, c.Logging.File)
	}

	if len(c.Transports) == 0 {
		c.Transports = []TransportConfig{{Type: "http"}}
	}
	for i := range c.Transports {
		t := &c.Transports[i]
		t.Type = strings.ToLower(t.Type)
		if t.ID == "" {
			t.ID = t.Type
		}
		if t.Type == "http" {
			if t.Listen == "" {
				t.Listen = "127.0.0.1:8765"
			}
			if t.ReplyTimeoutSeconds == 0 {
				t.ReplyTimeoutSeconds = c.Runner.RequestTimeoutSeconds + 30
			}
		}
		// Ensure keys are lowercase to avoid mismatches.
		for j, pk := range t.AllowedPubkeys {
			t.AllowedPubkeys[j] = strings.ToLower(pk)
		}
	}
}

func resolvePath(baseDir, p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p
}
