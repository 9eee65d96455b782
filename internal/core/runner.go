package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joelklabo/hassbuddy/internal/commands"
	"github.com/joelklabo/hassbuddy/internal/metrics"
)

// HistoryStore keeps the turns of each conversation.
type HistoryStore interface {
	AppendHistory(conversationID string, entry []byte, max int) error
}

// AutomationEntry describes one automation created through the runner.
type AutomationEntry struct {
	ID             string    `json:"id"`
	Alias          string    `json:"alias,omitempty"`
	Request        string    `json:"request"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AutomationLog lists recently created automations for /recent.
type AutomationLog interface {
	RecentAutomations(limit int) ([]AutomationEntry, error)
}

// Runner wires transports and agents together.
type Runner struct {
	transports   []Transport
	transportMap map[string]Transport
	agents       *Registry
	defaultAgent string
	logger       *slog.Logger

	reqTimeout     time.Duration
	maxReplyChars  int
	historyMax     int
	allowedSenders map[string]struct{}

	history HistoryStore
	log     AutomationLog

	inflight sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.reqTimeout = d }
}

// WithAllowedSenders sets allowed sender ids; empty means allow all.
func WithAllowedSenders(ids []string) RunnerOption {
	set := make(map[string]struct{}, len(ids))
	for _, n := range ids {
		set[strings.ToLower(n)] = struct{}{}
	}
	return func(r *Runner) { r.allowedSenders = set }
}

// WithDefaultAgent selects the registry entry used when a message names none.
func WithDefaultAgent(entryID string) RunnerOption {
	return func(r *Runner) { r.defaultAgent = entryID }
}

// WithMaxReplyChars truncates replies longer than n runes; 0 disables.
func WithMaxReplyChars(n int) RunnerOption {
	return func(r *Runner) { r.maxReplyChars = n }
}

// WithHistory records each turn, keeping at most max entries per conversation.
func WithHistory(h HistoryStore, max int) RunnerOption {
	return func(r *Runner) {
		r.history = h
		r.historyMax = max
	}
}

// WithAutomationLog enables the /recent command.
func WithAutomationLog(l AutomationLog) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// NewRunner constructs a Runner. If logger is nil, slog.Default is used.
func NewRunner(transports []Transport, agents *Registry, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	tmap := make(map[string]Transport, len(transports))
	for _, t := range transports {
		tmap[t.ID()] = t
	}

	r := &Runner{
		transports:   transports,
		transportMap: tmap,
		agents:       agents,
		logger:       logger,
		reqTimeout:   5 * time.Minute,
		historyMax:   50,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transports returns the configured transports.
func (r *Runner) Transports() []Transport { return r.transports }

// Start launches transports and processes inbound messages until ctx is done.
// Each message is handled on its own goroutine.
func (r *Runner) Start(ctx context.Context) error {
	inbound := make(chan InboundMessage, 128)
	var wg sync.WaitGroup
	errCh := make(chan error, len(r.transports))

	for _, t := range r.transports {
		wg.Add(1)
		go func(tr Transport) {
			defer wg.Done()
			if err := tr.Start(ctx, inbound); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("transport %s: %w", tr.ID(), err)
			}
		}(t)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-errCh:
			r.logger.Error("transport stopped", slog.String("err", err.Error()))
			if len(errCh) == 0 && r.allTransportsFailed(&wg) {
				r.inflight.Wait()
				return err
			}
		case msg := <-inbound:
			r.inflight.Add(1)
			go func(m InboundMessage) {
				defer r.inflight.Done()
				r.handleMessage(ctx, m)
			}(msg)
		}
	}

	wg.Wait()
	r.inflight.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// allTransportsFailed reports whether every transport goroutine has returned.
func (r *Runner) allTransportsFailed(wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(10 * time.Millisecond):
		return false
	}
}

func (r *Runner) handleMessage(parent context.Context, msg InboundMessage) {
	metrics.IncInbound()
	log := r.logger.With(
		slog.String("transport", msg.Transport),
		slog.String("sender", msg.Sender),
		slog.String("thread", msg.ThreadID),
	)

	if len(r.allowedSenders) > 0 {
		if _, ok := r.allowedSenders[strings.ToLower(msg.Sender)]; !ok {
			log.Warn("sender not allowed")
			return
		}
	}

	reqCtx := parent
	if r.reqTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(parent, r.reqTimeout)
		defer cancel()
	}

	convID := msg.ThreadID
	if convID == "" {
		convID = msg.Transport + ":" + msg.Sender
	}

	var resp AgentResponse
	cmd := commands.Parse(msg.Text)
	switch cmd.Name {
	case "help":
		resp = AgentResponse{Reply: commands.HelpText()}
	case "recent":
		resp = r.recent()
	default:
		if strings.TrimSpace(cmd.Args) == "" {
			resp = AgentResponse{Reply: "No request detected. Describe an automation or send /help."}
			break
		}
		resp = r.callAgent(reqCtx, msg, cmd.Args, convID, log)
	}

	r.appendHistory(convID, MessageTurn{Role: "user", Text: msg.Text}, log)
	r.appendHistory(convID, MessageTurn{Role: "agent", Text: resp.Reply}, log)

	outMsg := OutboundMessage{
		Transport: msg.Transport,
		Recipient: msg.Sender,
		Text:      truncate(resp.Reply, r.maxReplyChars),
		ThreadID:  msg.ThreadID,
		ErrorCode: resp.ErrorCode,
	}

	tr, ok := r.transportMap[msg.Transport]
	if !ok {
		log.Error("no transport for outbound", slog.String("transport", msg.Transport))
		return
	}
	if err := r.sendWithRetry(reqCtx, tr, outMsg, log); err != nil {
		metrics.IncSendError()
		log.Error("send error", slog.String("err", err.Error()))
	}
}

func (r *Runner) callAgent(ctx context.Context, msg InboundMessage, text, convID string, log *slog.Logger) AgentResponse {
	entry := msg.AgentID
	if entry == "" {
		entry = r.defaultAgent
	}
	agent, ok := r.agents.Get(entry)
	if !ok {
		log.Warn("no agent for entry", slog.String("entry", entry))
		return AgentResponse{Reply: fmt.Sprintf("Sorry, agent %q is not available.", entry), ErrorCode: ErrorCodeUnknown}
	}

	start := time.Now()
	resp, err := agent.Generate(ctx, AgentRequest{
		Prompt:         text,
		ConversationID: convID,
		Language:       msg.Language,
		Sender:         msg.Sender,
		SenderMeta:     msg.Meta,
	})
	if err != nil {
		log.Error("agent error", slog.String("err", err.Error()))
		return AgentResponse{Reply: fmt.Sprintf("Sorry, something went wrong: %v", err), ErrorCode: ErrorCodeUnknown}
	}
	log.Info("agent reply", slog.Duration("ms", time.Since(start)), slog.Bool("error", resp.ErrorCode != ""))
	return resp
}

func (r *Runner) recent() AgentResponse {
	if r.log == nil {
		return AgentResponse{Reply: "No automation log configured."}
	}
	entries, err := r.log.RecentAutomations(5)
	if err != nil {
		return AgentResponse{Reply: fmt.Sprintf("Sorry, I could not read the automation log: %v", err), ErrorCode: ErrorCodeUnknown}
	}
	if len(entries) == 0 {
		return AgentResponse{Reply: "No automations created yet."}
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		label := e.Alias
		if label == "" {
			label = e.Request
		}
		lines = append(lines, fmt.Sprintf("%s  %s  %s", e.ID, e.CreatedAt.Format(time.RFC3339), label))
	}
	return AgentResponse{Reply: strings.Join(lines, "\n")}
}

func (r *Runner) appendHistory(convID string, turn MessageTurn, log *slog.Logger) {
	if r.history == nil {
		return
	}
	b, err := json.Marshal(turn)
	if err != nil {
		return
	}
	if err := r.history.AppendHistory(convID, b, r.historyMax); err != nil {
		log.Warn("history append failed", slog.String("err", err.Error()))
	}
}

func (r *Runner) sendWithRetry(ctx context.Context, tr Transport, msg OutboundMessage, log *slog.Logger) error {
	var sendErr error
	err := retry(ctx, 3, func() error {
		err := tr.Send(ctx, msg)
		if err != nil {
			sendErr = err
			log.Warn("send retry", slog.String("err", err.Error()))
		}
		return err
	})
	if err != nil && sendErr != nil {
		return sendErr
	}
	return err
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "...\n(truncated)"
}
