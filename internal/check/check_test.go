package check

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/joelklabo/hassbuddy/internal/config"
)

func TestEnvChecker(t *testing.T) {
	const key = "CHECK_TEST_ENV"
	_ = os.Unsetenv(key)
	c := EnvChecker{}
	res := c.Check(DepInput{Name: key, Type: "env"})
	if res.Status != "MISSING" {
		t.Fatalf("expected missing when unset, got %s", res.Status)
	}
	_ = os.Setenv(key, "ok")
	defer func() { _ = os.Unsetenv(key) }()
	res = c.Check(DepInput{Name: key, Type: "env"})
	if res.Status != "OK" {
		t.Fatalf("expected OK when set, got %s", res.Status)
	}
}

func TestFileChecker(t *testing.T) {
	c := FileChecker{}
	res := c.Check(DepInput{Name: filepath.Join("this", "does", "not", "exist"), Type: "file"})
	if res.Status != "MISSING" {
		t.Fatalf("expected missing for absent file, got %s", res.Status)
	}
	res = c.Check(DepInput{Name: "check.go", Type: "file"})
	if res.Status != "OK" {
		t.Fatalf("expected OK for existing file, got %s", res.Status)
	}
}

func TestURLChecker(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer s.Close()

	c := URLChecker{}
	res := c.Check(DepInput{Name: s.URL, Type: "url"})
	if res.Status != "OK" {
		t.Fatalf("expected OK for reachable url, got %s", res.Status)
	}

	res = c.Check(DepInput{Name: "http://127.0.0.1:1", Type: "url"})
	if res.Status != "MISSING" {
		t.Fatalf("expected MISSING for bad url, got %s", res.Status)
	}
}

func TestPortChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	defer func() { _ = ln.Close() }()

	c := PortChecker{}
	res := c.Check(DepInput{Name: addr, Type: "port"})
	if res.Status != "OK" {
		t.Fatalf("expected OK for open port, got %s", res.Status)
	}

	res = c.Check(DepInput{Name: "127.0.0.1:9", Type: "port"})
	if res.Status != "MISSING" {
		t.Fatalf("expected MISSING for closed port, got %s", res.Status)
	}
}

func TestRelayChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	defer func() { _ = ln.Close() }()

	c := RelayChecker{}
	res := c.Check(DepInput{Name: "wss://" + addr, Type: "relay"})
	if res.Status != "OK" {
		t.Fatalf("expected OK for reachable relay, got %s", res.Status)
	}
	res = c.Check(DepInput{Name: "127.0.0.1:9", Type: "relay"})
	if res.Status != "MISSING" {
		t.Fatalf("expected MISSING for unreachable relay, got %s", res.Status)
	}
}

func TestDirWriteChecker(t *testing.T) {
	td := t.TempDir()
	c := DirWriteChecker{}
	res := c.Check(DepInput{Name: td, Type: "dirwrite"})
	if res.Status != "OK" {
		t.Fatalf("expected OK for writable temp dir, got %s", res.Status)
	}
	res = c.Check(DepInput{Name: "/nonexistent-path-hopefully", Type: "dirwrite"})
	if res.Status != "MISSING" {
		t.Fatalf("expected MISSING for nonexistent dir, got %s", res.Status)
	}
}

func TestPreflight(t *testing.T) {
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ha-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"message":"API running."}`))
	}))
	defer ha.Close()

	td := t.TempDir()
	cfg := &config.Config{
		HomeAssistant: config.HomeAssistantConfig{URL: ha.URL, Token: "ha-token", ConfigDir: td, AutomationsFile: "automations.yaml"},
		Storage:       config.StorageConfig{Path: filepath.Join(td, "state.db")},
	}
	results, missing := Preflight(cfg)
	if missing != 0 {
		t.Fatalf("expected nothing missing, got %d: %+v", missing, results)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Type == "file" && r.Status != "WARN" {
			t.Fatalf("absent automations file should warn, got %s", r.Status)
		}
	}

	cfg.HomeAssistant.Token = "wrong"
	if _, missing := Preflight(cfg); missing != 1 {
		t.Fatalf("expected rejected token to count, got %d", missing)
	}

	cfg.HomeAssistant.Token = "ha-token"
	cfg.HomeAssistant.ConfigDir = filepath.Join(td, "missing")
	if _, missing := Preflight(cfg); missing != 1 {
		t.Fatalf("expected missing config dir to count, got %d", missing)
	}
}

func TestDepsIncludesTransports(t *testing.T) {
	cfg := &config.Config{
		Transports: []config.TransportConfig{
			{Type: "nostr", Relays: []string{"wss://relay.one", "wss://relay.two"}},
			{Type: "email", Host: "imap.example.com"},
		},
	}
	deps := Deps(cfg)
	var relays, ports int
	for _, d := range deps {
		switch d.Type {
		case "relay":
			relays++
			if !d.Optional {
				t.Fatalf("relay should be optional when several are configured")
			}
		case "port":
			ports++
			if d.Name != "imap.example.com:993" {
				t.Fatalf("unexpected imap addr %s", d.Name)
			}
		}
	}
	if relays != 2 || ports != 1 {
		t.Fatalf("relays=%d ports=%d", relays, ports)
	}
}
