package check

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/hass"
)

// Result represents a single dependency check outcome.
type Result struct {
	Name     string
	Type     string
	Status   string // OK|MISSING|WARN
	Details  string
	Optional bool
}

// Checker defines an interface for running checks.
type Checker interface {
	Check(dep DepInput) Result
}

// DepInput describes one thing the runtime needs.
type DepInput struct {
	Name        string
	Type        string
	Optional    bool
	Description string
	Hint        string
}

var dialTimeout = 3 * time.Second

// EnvChecker checks that an environment variable is set.
type EnvChecker struct{}

func (EnvChecker) Check(dep DepInput) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: "OK", Optional: dep.Optional}
	if os.Getenv(dep.Name) == "" {
		res.Status = missingStatus(dep.Optional)
		res.Details = withHint("not set", dep.Hint)
	}
	return res
}

// FileChecker checks that a file exists.
type FileChecker struct{}

func (FileChecker) Check(dep DepInput) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: "OK", Optional: dep.Optional}
	info, err := os.Stat(dep.Name)
	switch {
	case err != nil:
		res.Status = missingStatus(dep.Optional)
		res.Details = withHint(err.Error(), dep.Hint)
	case info.IsDir():
		res.Status = missingStatus(dep.Optional)
		res.Details = "is a directory"
	}
	return res
}

// DirWriteChecker checks that a directory exists and accepts new files.
type DirWriteChecker struct{}

func (DirWriteChecker) Check(dep DepInput) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: "OK", Optional: dep.Optional}
	f, err := os.CreateTemp(dep.Name, ".hassbuddy-check-*")
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = withHint(err.Error(), dep.Hint)
		return res
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return res
}

// URLChecker checks that an HTTP endpoint answers at all.
type URLChecker struct {
	Client *http.Client
}

func (c URLChecker) Check(dep DepInput) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: "OK", Optional: dep.Optional}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: dialTimeout}
	}
	resp, err := client.Get(dep.Name)
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = withHint(err.Error(), dep.Hint)
		return res
	}
	_ = resp.Body.Close()
	res.Details = resp.Status
	if resp.StatusCode >= 500 {
		res.Status = "WARN"
	}
	return res
}

// HassChecker checks that Home Assistant answers and accepts the token.
type HassChecker struct {
	Token string
}

func (c HassChecker) Check(dep DepInput) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: "OK", Optional: dep.Optional}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := hass.NewClient(dep.Name, c.Token, dialTimeout).Ping(ctx); err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = withHint(err.Error(), dep.Hint)
	}
	return res
}

// PortChecker checks that something accepts TCP connections on host:port.
type PortChecker struct{}

func (PortChecker) Check(dep DepInput) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: "OK", Optional: dep.Optional}
	conn, err := net.DialTimeout("tcp", dep.Name, dialTimeout)
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = withHint(err.Error(), dep.Hint)
		return res
	}
	_ = conn.Close()
	return res
}

// RelayChecker dials the TCP endpoint behind a relay URL.
type RelayChecker struct{}

func (RelayChecker) Check(dep DepInput) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: "OK", Optional: dep.Optional}
	addr, err := relayAddr(dep.Name)
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = err.Error()
		return res
	}
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = withHint(err.Error(), dep.Hint)
		return res
	}
	_ = conn.Close()
	res.Details = addr
	return res
}

func relayAddr(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		return "", fmt.Errorf("not a relay url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "443"
	if u.Scheme == "ws" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Checkers maps DepInput.Type to its checker.
func Checkers() map[string]Checker {
	return map[string]Checker{
		"env":      EnvChecker{},
		"file":     FileChecker{},
		"dirwrite": DirWriteChecker{},
		"url":      URLChecker{},
		"port":     PortChecker{},
		"relay":    RelayChecker{},
	}
}

// Deps lists what the configured runtime depends on.
func Deps(cfg *config.Config) []DepInput {
	deps := []DepInput{
		{Name: cfg.HomeAssistant.URL, Type: "hass", Description: "Home Assistant API", Hint: "check homeassistant.url and token"},
		{Name: cfg.HomeAssistant.ConfigDir, Type: "dirwrite", Description: "automations directory", Hint: "check homeassistant.config_dir"},
		{Name: cfg.AutomationsPath(), Type: "file", Optional: true, Description: "automations file", Hint: "created on first automation"},
		{Name: filepath.Dir(cfg.Storage.Path), Type: "dirwrite", Description: "state directory", Hint: "check storage.path"},
	}
	for _, t := range cfg.Transports {
		switch t.Type {
		case "nostr":
			for _, r := range t.Relays {
				deps = append(deps, DepInput{Name: r, Type: "relay", Optional: len(t.Relays) > 1, Description: "nostr relay"})
			}
		case "email":
			port := t.Port
			if port == 0 {
				port = 993
			}
			deps = append(deps, DepInput{Name: net.JoinHostPort(t.Host, fmt.Sprint(port)), Type: "port", Description: "IMAP server"})
		}
	}
	return deps
}

// Preflight runs every check for cfg and returns the results plus the
// number of required dependencies that are missing.
func Preflight(cfg *config.Config) ([]Result, int) {
	checkers := Checkers()
	checkers["hass"] = HassChecker{Token: cfg.HomeAssistant.Token}
	var (
		results []Result
		missing int
	)
	for _, d := range Deps(cfg) {
		chk, ok := checkers[d.Type]
		if !ok {
			continue
		}
		res := chk.Check(d)
		if res.Status == "MISSING" {
			missing++
		}
		results = append(results, res)
	}
	return results, missing
}

func withHint(details, hint string) string {
	if hint == "" {
		return details
	}
	return fmt.Sprintf("%s (%s)", details, hint)
}

func missingStatus(optional bool) string {
	if optional {
		return "WARN"
	}
	return "MISSING"
}
