package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joelklabo/hassbuddy/internal/agent"
	"github.com/joelklabo/hassbuddy/internal/automation"
	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/core"
	"github.com/joelklabo/hassbuddy/internal/hass"
	"github.com/joelklabo/hassbuddy/internal/openai"
	"github.com/joelklabo/hassbuddy/internal/prompt"
	"github.com/joelklabo/hassbuddy/internal/store"
	transport "github.com/joelklabo/hassbuddy/internal/transports"

	_ "github.com/joelklabo/hassbuddy/internal/transports/email"
	_ "github.com/joelklabo/hassbuddy/internal/transports/http"
	_ "github.com/joelklabo/hassbuddy/internal/transports/mock"
	_ "github.com/joelklabo/hassbuddy/internal/transports/nostr"
)

// DefaultEntryID is the registry entry of the configured agent.
const DefaultEntryID = "default"

// App is a fully wired service.
type App struct {
	Runner   *core.Runner
	Agents   *core.Registry
	agent    *agent.Agent
	merger   *automation.Merger
	entryIDs []string
}

// Build constructs transports, the agent and the runner from config.
func Build(cfg *config.Config, st *store.Store, logger *slog.Logger) (*App, error) {
	if st == nil {
		return nil, errors.New("state store required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ha := hass.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, time.Duration(cfg.HomeAssistant.TimeoutSeconds)*time.Second)

	var renderer prompt.TemplateRenderer = prompt.LocalRenderer{}
	tmpl := prompt.SystemTemplate
	if cfg.HomeAssistant.Renderer == config.RendererRemote {
		renderer = ha
		tmpl = prompt.SystemTemplateJinja
	}

	merger := automation.NewMerger(automation.NewFile(cfg.AutomationsPath()), logger)
	ag, err := agent.New(agent.Config{
		Prompts: prompt.NewBuilder(ha, renderer, tmpl),
		Model: openai.New(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
		}),
		Merger:        merger,
		Reloader:      ha,
		Recorder:      st,
		ReloadTimeout: time.Duration(cfg.HomeAssistant.ReloadTimeoutSeconds) * time.Second,
		Logger:        logger,
	})
	if err != nil {
		merger.Close()
		return nil, err
	}

	registry := core.NewRegistry()
	if err := registry.Set(DefaultEntryID, ag); err != nil {
		merger.Close()
		return nil, err
	}

	transports := make([]core.Transport, 0, len(cfg.Transports))
	for _, tc := range cfg.Transports {
		tr, err := transport.Build(tc, transport.Deps{State: st, Logger: logger})
		if err != nil {
			merger.Close()
			return nil, err
		}
		transports = append(transports, tr)
	}

	r := core.NewRunner(transports, registry, logger,
		core.WithDefaultAgent(DefaultEntryID),
		core.WithAllowedSenders(cfg.Runner.AllowedSenders),
		core.WithRequestTimeout(time.Duration(cfg.Runner.RequestTimeoutSeconds)*time.Second),
		core.WithMaxReplyChars(cfg.Runner.MaxReplyChars),
		core.WithHistory(st, cfg.Runner.HistoryLimit),
		core.WithAutomationLog(st),
	)
	logger.Info("app built",
		slog.String("automations", cfg.AutomationsPath()),
		slog.String("renderer", cfg.HomeAssistant.Renderer),
		slog.Int("transports", len(transports)),
	)
	return &App{Runner: r, Agents: registry, agent: ag, merger: merger, entryIDs: []string{DefaultEntryID}}, nil
}

// Close unloads the agent entries, waits for pending reloads and stops the
// merger worker.
func (a *App) Close() {
	for _, id := range a.entryIDs {
		a.Agents.Unset(id)
	}
	a.agent.Wait()
	a.merger.Close()
}

// Describe summarizes the wiring for the check command.
func (a *App) Describe() string {
	ids := make([]string, 0, len(a.Runner.Transports()))
	for _, t := range a.Runner.Transports() {
		ids = append(ids, t.ID())
	}
	return fmt.Sprintf("agents=%v transports=%v", a.Agents.Entries(), ids)
}
