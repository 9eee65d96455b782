package wizard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/yaml.v3"

	"github.com/joelklabo/hassbuddy/internal/config"
)

// Prompter abstracts survey for testability.
type Prompter interface {
	AskSelect(label string, options []string, def string) (string, error)
	AskInput(label, def string) (string, error)
	AskPassword(label string) (string, error)
	AskConfirm(label string, def bool) (bool, error)
}

// Run executes the interactive wizard and writes a config file.
func Run(ctx context.Context, path string, p Prompter) (string, error) {
	if p == nil {
		p = &surveyPrompter{}
	}

	cfgPath, err := resolveConfigPath(path)
	if err != nil {
		return "", err
	}

	if fileExists(cfgPath) {
		overwrite, err := p.AskConfirm(fmt.Sprintf("%s exists. Overwrite?", cfgPath), false)
		if err != nil {
			return "", err
		}
		if !overwrite {
			return "", fmt.Errorf("aborted: config exists at %s", cfgPath)
		}
	}

	reg := GetRegistry()
	cfg := &config.Config{
		Storage: config.StorageConfig{Path: defaultStatePath()},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}

	ha, err := ask(ctx, p, reg.HomeAssistant)
	if err != nil {
		return "", err
	}
	cfg.HomeAssistant = config.HomeAssistantConfig{
		URL:       ha["url"],
		Token:     ha["token"],
		ConfigDir: ha["config_dir"],
		Renderer:  ha["renderer"],
	}

	oa, err := ask(ctx, p, reg.OpenAI)
	if err != nil {
		return "", err
	}
	cfg.OpenAI.APIKey = oa["api_key"]

	names := transportNames(reg.Transports)
	choice, err := p.AskSelect("Pick a transport", names, defaultChoice("http", names))
	if err != nil {
		return "", err
	}
	opt, err := transportOption(reg.Transports, choice)
	if err != nil {
		return "", err
	}
	answers, err := ask(ctx, p, opt.Prompts)
	if err != nil {
		return "", err
	}
	tc, err := transportConfig(opt.Name, answers)
	if err != nil {
		return "", err
	}
	cfg.Transports = []config.TransportConfig{tc}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	if _, err := config.LoadBytes(data, filepath.Dir(cfgPath)); err != nil {
		return "", fmt.Errorf("generated config is invalid: %w", err)
	}

	dryRun, err := p.AskConfirm("Dry-run only (preview config without writing)?", false)
	if err != nil {
		return "", err
	}
	if dryRun {
		fmt.Printf("Dry run: config NOT written. Target path would be %s\n", cfgPath)
		return cfgPath, nil
	}

	if err := writeConfig(cfgPath, data); err != nil {
		return "", err
	}
	return cfgPath, nil
}

// ask runs specs in order and returns answers keyed by PromptSpec.Key.
func ask(ctx context.Context, p Prompter, specs []PromptSpec) (map[string]string, error) {
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			ans string
			err error
		)
		switch s.Kind {
		case PromptPassword:
			ans, err = p.AskPassword(s.Label)
		case PromptSelect:
			ans, err = p.AskSelect(s.Label, s.Options, defaultChoice(s.Default, s.Options))
		case PromptConfirm:
			var ok bool
			ok, err = p.AskConfirm(s.Label, s.Default == "true")
			ans = fmt.Sprint(ok)
		default:
			ans, err = p.AskInput(s.Label, s.Default)
		}
		if err != nil {
			return nil, err
		}
		ans = strings.TrimSpace(ans)
		if ans == "" && s.Required {
			return nil, fmt.Errorf("%s is required", strings.ToLower(s.Label))
		}
		out[s.Key] = ans
	}
	return out, nil
}

func transportConfig(kind string, a map[string]string) (config.TransportConfig, error) {
	tc := config.TransportConfig{Type: kind, ID: kind}
	switch kind {
	case "http":
		tc.Listen = a["listen"]
		tc.Token = a["token"]
	case "nostr":
		tc.Relays = splitCSV(a["relays"])
		tc.AllowedPubkeys = splitCSV(a["allowed_pubkeys"])
		if len(tc.AllowedPubkeys) == 0 {
			return tc, errors.New("at least one allowed pubkey required")
		}
		tc.PrivateKey = a["private_key"]
		if tc.PrivateKey == "" {
			tc.PrivateKey = nostr.GeneratePrivateKey()
			pub, _ := nostr.GetPublicKey(tc.PrivateKey)
			fmt.Printf("Generated nostr key; DM the bot at pubkey %s\n", pub)
		}
	case "email":
		tc.Host = a["host"]
		tc.Username = a["username"]
		tc.Password = a["password"]
	}
	return tc, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "hassbuddy", "config.yaml"), nil
}

func writeConfig(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("make config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "state.db"
	}
	return filepath.Join(home, ".local", "share", "hassbuddy", "state.db")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// surveyPrompter is the real interactive implementation.
type surveyPrompter struct{}

func (surveyPrompter) AskSelect(label string, options []string, def string) (string, error) {
	sel := def
	prompt := &survey.Select{Message: label, Options: options, Default: def}
	if err := survey.AskOne(prompt, &sel); err != nil {
		return "", err
	}
	return sel, nil
}

func (surveyPrompter) AskInput(label, def string) (string, error) {
	ans := def
	prompt := &survey.Input{Message: label, Default: def}
	if err := survey.AskOne(prompt, &ans); err != nil {
		return "", err
	}
	return ans, nil
}

func (surveyPrompter) AskPassword(label string) (string, error) {
	var ans string
	prompt := &survey.Password{Message: label}
	if err := survey.AskOne(prompt, &ans); err != nil {
		return "", err
	}
	return ans, nil
}

func (surveyPrompter) AskConfirm(label string, def bool) (bool, error) {
	ans := def
	prompt := &survey.Confirm{Message: label, Default: def}
	if err := survey.AskOne(prompt, &ans); err != nil {
		return false, err
	}
	return ans, nil
}

func transportNames(opts []TransportOption) []string {
	names := make([]string, 0, len(opts))
	for _, o := range opts {
		names = append(names, o.Name)
	}
	return names
}

func transportOption(opts []TransportOption, name string) (TransportOption, error) {
	for _, o := range opts {
		if o.Name == name {
			return o, nil
		}
	}
	return TransportOption{}, fmt.Errorf("transport option %s not found", name)
}

func defaultChoice(defaultVal string, options []string) string {
	for _, opt := range options {
		if opt == defaultVal {
			return defaultVal
		}
	}
	if len(options) > 0 {
		return options[0]
	}
	return defaultVal
}
