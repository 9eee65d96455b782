// Package agent turns a free-text request into a Home Assistant automation:
// prompt, model call, merge into the automations file, then a detached reload.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joelklabo/hassbuddy/internal/automation"
	"github.com/joelklabo/hassbuddy/internal/core"
	"github.com/joelklabo/hassbuddy/internal/metrics"
	"github.com/joelklabo/hassbuddy/internal/prompt"
)

// PromptBuilder renders the exchange sent to the model.
type PromptBuilder interface {
	Build(ctx context.Context, userText string) (prompt.Exchange, error)
}

// ModelClient completes a system/user exchange.
type ModelClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AutomationMerger appends the model reply to the automations file.
type AutomationMerger interface {
	Merge(ctx context.Context, reply string) (automation.Record, error)
}

// Reloader asks Home Assistant to reload automations.
type Reloader interface {
	ReloadAutomations(ctx context.Context) error
}

// Recorder logs created automations.
type Recorder interface {
	RecordAutomation(e core.AutomationEntry) error
}

// Pipeline stages, used for logging and the stage error metric.
const (
	statePrompting     = "prompting"
	stateAwaitingModel = "awaiting_model"
	stateMerging       = "merging"
	stateReloading     = "reloading"
	stateResponding    = "responding"
)

// Attribution identifies the service behind the agent.
type Attribution struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// MatchAll is the language wildcard.
const MatchAll = "*"

// Config wires the agent to its collaborators. Recorder is optional.
type Config struct {
	Prompts       PromptBuilder
	Model         ModelClient
	Merger        AutomationMerger
	Reloader      Reloader
	Recorder      Recorder
	ReloadTimeout time.Duration
	Logger        *slog.Logger
}

// Agent implements core.Agent.
type Agent struct {
	cfg     Config
	logger  *slog.Logger
	reloads sync.WaitGroup
}

// New validates cfg and returns an Agent.
func New(cfg Config) (*Agent, error) {
	switch {
	case cfg.Prompts == nil:
		return nil, errors.New("agent: prompt builder required")
	case cfg.Model == nil:
		return nil, errors.New("agent: model client required")
	case cfg.Merger == nil:
		return nil, errors.New("agent: merger required")
	case cfg.Reloader == nil:
		return nil, errors.New("agent: reloader required")
	}
	if cfg.ReloadTimeout == 0 {
		cfg.ReloadTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{cfg: cfg, logger: logger.With(slog.String("component", "agent"))}, nil
}

// Attribution returns the service credited for replies.
func (a *Agent) Attribution() Attribution {
	return Attribution{Name: "OpenAI Automation Conversation Agent", URL: "https://openai.com"}
}

// SupportedLanguages reports that any language is accepted.
func (a *Agent) SupportedLanguages() []string { return []string{MatchAll} }

// Generate runs one request through the pipeline. Pipeline failures are
// returned as an error reply, never as a Go error.
func (a *Agent) Generate(ctx context.Context, req core.AgentRequest) (core.AgentResponse, error) {
	log := a.logger.With(slog.String("conversation", req.ConversationID))

	log.Debug("state", slog.String("state", statePrompting))
	exchange, err := a.cfg.Prompts.Build(ctx, req.Prompt)
	if err != nil {
		return a.fail(log, statePrompting, "Sorry, I had a problem with my template: %v", err), nil
	}

	log.Debug("state", slog.String("state", stateAwaitingModel))
	reply, err := a.cfg.Model.Complete(ctx, exchange.System, exchange.User)
	if err != nil {
		return a.fail(log, stateAwaitingModel, "Sorry, I had a problem talking to OpenAI: %v", err), nil
	}

	log.Debug("state", slog.String("state", stateMerging))
	rec, err := a.cfg.Merger.Merge(ctx, reply)
	if err != nil {
		var perr *automation.ParseError
		if errors.As(err, &perr) {
			return a.fail(log, stateMerging, "Sorry, I could not read the automation OpenAI returned: %v", perr.Err), nil
		}
		return a.fail(log, stateMerging, "Sorry, I had a problem saving the automation: %v", err), nil
	}
	metrics.IncCreated()

	id := rec.ID()
	log.Debug("state", slog.String("state", stateReloading), slog.String("id", id))
	a.reload(id)
	a.record(log, rec, req)

	log.Debug("state", slog.String("state", stateResponding))
	log.Info("automation created", slog.String("id", id))
	return core.AgentResponse{Reply: fmt.Sprintf("Created automation with id %s", id)}, nil
}

// Wait blocks until every scheduled reload has finished.
func (a *Agent) Wait() { a.reloads.Wait() }

func (a *Agent) fail(log *slog.Logger, stage, format string, err error) core.AgentResponse {
	metrics.IncStageError(stage)
	log.Warn("pipeline failed", slog.String("stage", stage), slog.String("err", err.Error()))
	log.Debug("state", slog.String("state", stateResponding), slog.Bool("error", true))
	return core.AgentResponse{Reply: fmt.Sprintf(format, err), ErrorCode: core.ErrorCodeUnknown}
}

// reload runs detached from the request; its outcome never reaches the user.
func (a *Agent) reload(id string) {
	a.reloads.Add(1)
	go func() {
		defer a.reloads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ReloadTimeout)
		defer cancel()
		if err := a.cfg.Reloader.ReloadAutomations(ctx); err != nil {
			metrics.IncReload("error")
			a.logger.Error("reload automations failed", slog.String("id", id), slog.String("err", err.Error()))
			return
		}
		metrics.IncReload("ok")
		a.logger.Debug("automations reloaded", slog.String("id", id))
	}()
}

func (a *Agent) record(log *slog.Logger, rec automation.Record, req core.AgentRequest) {
	if a.cfg.Recorder == nil {
		return
	}
	entry := core.AutomationEntry{
		ID:             rec.ID(),
		Request:        req.Prompt,
		ConversationID: req.ConversationID,
		CreatedAt:      time.Now().UTC(),
	}
	if m, err := rec.Map(); err == nil {
		if alias, ok := m["alias"].(string); ok {
			entry.Alias = alias
		}
	}
	if err := a.cfg.Recorder.RecordAutomation(entry); err != nil {
		log.Warn("record automation failed", slog.String("err", err.Error()))
	}
}
