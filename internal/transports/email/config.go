package email

import (
	"time"

	"github.com/joelklabo/hassbuddy/internal/config"
)

// Config for the IMAP/SMTP transport.
type Config struct {
	ID       string
	Host     string
	Port     int
	Username string
	Password string
	Folder   string

	SMTPHost string
	SMTPPort int

	PollInterval time.Duration
}

func fromTransportConfig(tc config.TransportConfig) Config {
	return Config{
		ID:           tc.ID,
		Host:         tc.Host,
		Port:         tc.Port,
		Username:     tc.Username,
		Password:     tc.Password,
		Folder:       tc.Folder,
		SMTPHost:     tc.SMTPHost,
		SMTPPort:     tc.SMTPPort,
		PollInterval: time.Duration(tc.PollSeconds) * time.Second,
	}
}

func (c *Config) Defaults() {
	if c.Port == 0 {
		c.Port = 993
	}
	if c.Folder == "" {
		c.Folder = "INBOX"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.ID == "" {
		c.ID = "email"
	}
	if c.SMTPHost == "" {
		c.SMTPHost = c.Host
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Host == "" || c.Username == "" || c.Password == "" {
		return Err("host, username, password are required")
	}
	return nil
}
