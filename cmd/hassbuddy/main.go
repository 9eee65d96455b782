package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/joelklabo/hassbuddy/internal/app"
	"github.com/joelklabo/hassbuddy/internal/assets"
	"github.com/joelklabo/hassbuddy/internal/check"
	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/metrics"
	"github.com/joelklabo/hassbuddy/internal/store"
	"github.com/joelklabo/hassbuddy/internal/wizard"
)

const envConfig = "HASSBUDDY_CONFIG"

// version is set via ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := parseSubcommand(os.Args[1:])
	var err error
	switch cmd {
	case "run":
		err = runContext(ctx, args)
	case "init":
		err = runInit(ctx, args)
	case "check":
		err = runCheck(args)
	case "example-config":
		_, err = os.Stdout.Write(assets.ConfigExample)
	case "version":
		fmt.Println(buildVersion())
	case "help":
		usage()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatalf("%s: %v", cmd, err)
	}
}

func parseSubcommand(args []string) (string, []string) {
	if len(args) == 0 {
		return "run", nil
	}
	switch args[0] {
	case "run", "init", "check", "example-config", "version", "help":
		return args[0], args[1:]
	case "-h", "--help":
		return "help", nil
	}
	return "run", args
}

func usage() {
	fmt.Fprintf(os.Stderr, `hassbuddy %s

Usage:
  hassbuddy [run] [-config path] [-skip-check] [-metrics-listen addr]
  hassbuddy init [-config path]
  hassbuddy check [-config path] [-json]
  hassbuddy example-config
  hassbuddy version

Config is searched in: -config, $%s, ./config.yaml, ~/.config/hassbuddy/config.yaml
`, buildVersion(), envConfig)
}

func runContext(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config.yaml")
	skipCheck := fs.Bool("skip-check", false, "Skip dependency preflight")
	metricsListen := fs.String("metrics-listen", "", "Override metrics.listen")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	if !*skipCheck {
		if err := preflight(cfg); err != nil {
			return err
		}
	}

	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	a, err := app.Build(cfg, st, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	listen := cfg.Metrics.Listen
	if *metricsListen != "" {
		listen = *metricsListen
	}
	if err := metrics.Start(ctx, listen, logger); err != nil {
		return err
	}

	printBanner(cfg, path, buildVersion())
	logger.Info("hassbuddy starting",
		slog.String("config", path),
		slog.String("version", buildVersion()),
		slog.String("wiring", a.Describe()),
	)
	err = a.Runner.Start(ctx)
	logger.Info("shutdown complete")
	return err
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "", "Where to write config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := wizard.Run(ctx, *configPath, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Config ready at %s\nStart with: hassbuddy -config %s\n", path, path)
	return nil
}

type checkResult struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Details  string `json:"details,omitempty"`
	Optional bool   `json:"optional"`
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config.yaml")
	asJSON := fs.Bool("json", false, "Print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	results, missing := check.Preflight(cfg)
	if *asJSON {
		out := make([]checkResult, 0, len(results))
		for _, r := range results {
			out = append(out, checkResult(r))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			fmt.Printf("%-7s %-8s %s %s\n", r.Status, r.Type, r.Name, r.Details)
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d required dependencies missing", missing)
	}
	return nil
}

func preflight(cfg *config.Config) error {
	results, missing := check.Preflight(cfg)
	if missing == 0 {
		return nil
	}
	for _, r := range results {
		if r.Status == "MISSING" {
			fmt.Fprintf(os.Stderr, "missing: %s (%s) %s\n", r.Name, r.Type, r.Details)
		}
	}
	return fmt.Errorf("%d required dependencies missing; rerun with -skip-check to bypass", missing)
}

// loadConfig resolves the config path, loads .env files and parses the config.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path := flagPath
	if path == "" {
		path = defaultConfigPath()
	}
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	loadDotEnv(".env")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// loadDotEnv loads path into the environment. A missing file is fine; a
// malformed one is reported and skipped.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring .env file", slog.String("path", path), slog.String("err", err.Error()))
	}
}

func defaultConfigPath() string {
	if p := os.Getenv(envConfig); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "hassbuddy", "config.yaml")
}

func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stdout
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				w = io.MultiWriter(os.Stdout, f)
			}
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func printBanner(cfg *config.Config, configPath, ver string) {
	if !isTTY() {
		return
	}
	cyan := "\033[36m"
	mag := "\033[35m"
	reset := "\033[0m"

	ids := make([]string, 0, len(cfg.Transports))
	for _, t := range cfg.Transports {
		ids = append(ids, t.ID+"("+t.Type+")")
	}
	fmt.Printf("%shassbuddy %s%s\n", mag, ver, reset)
	fmt.Printf("  hass        %s%s%s\n", cyan, cfg.HomeAssistant.URL, reset)
	fmt.Printf("  automations %s%s%s\n", cyan, cfg.AutomationsPath(), reset)
	fmt.Printf("  transports  %s%s%s\n", cyan, strings.Join(ids, ", "), reset)
	fmt.Printf("  config      %s%s%s\n", cyan, configPath, reset)
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func buildVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

func fatalf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}
