package assets

import (
	"testing"

	"github.com/joelklabo/hassbuddy/internal/config"
)

func TestConfigExampleLoads(t *testing.T) {
	t.Setenv("HASS_TOKEN", "ha-token")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := config.LoadBytes(ConfigExample, t.TempDir())
	if err != nil {
		t.Fatalf("example config invalid: %v", err)
	}
	if len(cfg.Transports) != 1 || cfg.Transports[0].Type != "http" {
		t.Fatalf("unexpected transports %+v", cfg.Transports)
	}
}
