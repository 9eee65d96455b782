package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joelklabo/hassbuddy/internal/config"
)

func TestParseSubcommand(t *testing.T) {
	cmd, rest := parseSubcommand([]string{"version"})
	if cmd != "version" || len(rest) != 0 {
		t.Fatalf("parse subcommand failed")
	}
	cmd, _ = parseSubcommand([]string{"example-config"})
	if cmd != "example-config" {
		t.Fatalf("expected example-config routing")
	}
	cmd, rest = parseSubcommand([]string{"-config", "x"})
	if cmd != "run" || len(rest) != 2 {
		t.Fatalf("expected run fallback")
	}
	cmd, rest = parseSubcommand(nil)
	if cmd != "run" || len(rest) != 0 {
		t.Fatalf("expected run default, got %s", cmd)
	}
	if cmd, _ = parseSubcommand([]string{"--help"}); cmd != "help" {
		t.Fatalf("expected help, got %s", cmd)
	}
}

func TestDefaultConfigPathEnv(t *testing.T) {
	t.Setenv(envConfig, "/tmp/cfg")
	if got := defaultConfigPath(); got != "/tmp/cfg" {
		t.Fatalf("expected env path, got %s", got)
	}
}

func TestDefaultConfigPathFallback(t *testing.T) {
	td := t.TempDir()
	t.Setenv(envConfig, "")
	t.Setenv("HOME", td)
	chdir(t, td)

	if got := defaultConfigPath(); got != filepath.Join(td, ".config", "hassbuddy", "config.yaml") {
		t.Fatalf("unexpected fallback %s", got)
	}
	if err := os.WriteFile("config.yaml", []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := defaultConfigPath(); got != "config.yaml" {
		t.Fatalf("expected cwd config, got %s", got)
	}
}

func TestUsageDoesNotPanic(t *testing.T) {
	usage()
}

func TestSetupLoggerWritesFile(t *testing.T) {
	td := t.TempDir()
	cfg := &config.Config{
		Logging: config.LoggingConfig{
			Level:  "debug",
			File:   filepath.Join(td, "logs", "hassbuddy.log"),
			Format: "json",
		},
	}
	logger := setupLogger(cfg)
	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(cfg.Logging.File)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("log content unexpected: %s", string(data))
	}
}

func TestBuildVersionNonEmpty(t *testing.T) {
	if buildVersion() == "" {
		t.Fatalf("buildVersion should not be empty")
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	td := t.TempDir()
	cfgPath := writeConfig(t, td, "http://127.0.0.1:1", "${DOTENV_TEST_TOKEN}")
	if err := os.WriteFile(filepath.Join(td, ".env"), []byte("DOTENV_TEST_TOKEN=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_TEST_TOKEN") })

	cfg, _, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HomeAssistant.Token != "from-dotenv" {
		t.Fatalf("expected token from .env, got %q", cfg.HomeAssistant.Token)
	}
}

func TestLoadDotEnvReportsMalformedFile(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	td := t.TempDir()
	loadDotEnv(filepath.Join(td, ".env"))
	if buf.Len() != 0 {
		t.Fatalf("missing .env should be silent, got %s", buf.String())
	}

	bad := filepath.Join(td, "bad.env")
	if err := os.WriteFile(bad, []byte("BAD-KEY=1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	loadDotEnv(bad)
	if !strings.Contains(buf.String(), "ignoring .env file") || !strings.Contains(buf.String(), "bad.env") {
		t.Fatalf("expected warning for malformed .env, got %q", buf.String())
	}
}

func TestRunContextStartsAndCancels(t *testing.T) {
	td := t.TempDir()
	cfgPath := writeConfig(t, td, "http://127.0.0.1:1", "ha-token")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	if err := runContext(ctx, []string{"-config", cfgPath, "-skip-check", "-metrics-listen", "127.0.0.1:0"}); err != nil && err != context.Canceled {
		t.Fatalf("runContext err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(td, "state.db")); err != nil {
		t.Fatalf("expected state db: %v", err)
	}
}

func TestRunContextUsesConfigEnv(t *testing.T) {
	td := t.TempDir()
	envDir := filepath.Join(td, "env")
	cwd := filepath.Join(td, "cwd")
	for _, d := range []string{envDir, cwd} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	envCfg := writeConfig(t, envDir, "http://127.0.0.1:1", "ha-token")
	writeConfig(t, cwd, "http://127.0.0.1:1", "ha-token")

	t.Setenv(envConfig, envCfg)
	chdir(t, cwd)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	if err := runContext(ctx, []string{"-skip-check"}); err != nil && err != context.Canceled {
		t.Fatalf("runContext err: %v", err)
	}
	if _, err := os.Stat(filepath.Join(envDir, "state.db")); err != nil {
		t.Fatalf("expected env db created, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(cwd, "state.db")); err == nil {
		t.Fatalf("cwd db should not have been used")
	}
}

func TestRunContextPreflightFails(t *testing.T) {
	td := t.TempDir()
	cfgPath := writeConfig(t, td, "http://127.0.0.1:1", "ha-token")
	if err := runContext(context.Background(), []string{"-config", cfgPath}); err == nil {
		t.Fatalf("expected preflight failure for unreachable Home Assistant")
	}
}

func TestRunCheckJSONOutput(t *testing.T) {
	ha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ha.Close()

	td := t.TempDir()
	cfgPath := writeConfig(t, td, ha.URL, "ha-token")

	out := captureStdout(func() {
		if err := runCheck([]string{"-config", cfgPath, "-json"}); err != nil {
			t.Errorf("runCheck err: %v", err)
		}
	})

	var results []map[string]any
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("unmarshal json: %v\noutput: %s", err, out)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0]["status"] != "OK" {
		t.Fatalf("expected OK status for reachable url: %#v", results[0])
	}
}

func TestRunCheckFailsOnMissingRequired(t *testing.T) {
	td := t.TempDir()
	cfgPath := writeConfig(t, td, "http://127.0.0.1:1", "ha-token")
	_ = captureStdout(func() {
		if err := runCheck([]string{"-config", cfgPath}); err == nil {
			t.Errorf("expected runCheck to fail on unreachable Home Assistant")
		}
	})
}

func writeConfig(t *testing.T, dir, haURL, token string) string {
	t.Helper()
	cfgYAML := `
homeassistant:
  url: "` + haURL + `"
  token: "` + token + `"
  config_dir: "` + dir + `"
openai:
  api_key: sk-test
storage:
  path: "` + filepath.Join(dir, "state.db") + `"
transports:
  - type: mock
    id: mock
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfgYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(orig) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
}

func captureStdout(fn func()) string {
	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() {
		os.Stdout = orig
	}()
	fn()
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}
