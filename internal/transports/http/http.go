package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	nethttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/core"
	transport "github.com/joelklabo/hassbuddy/internal/transports"
)

const conversationPath = "/api/conversation/process"

func init() {
	transport.MustRegister("http", func(cfg config.TransportConfig, deps transport.Deps) (core.Transport, error) {
		return New(Config{
			ID:           cfg.ID,
			Listen:       cfg.Listen,
			Token:        cfg.Token,
			ReplyTimeout: time.Duration(cfg.ReplyTimeoutSeconds) * time.Second,
		}, deps.Logger)
	})
}

// Config for the conversation endpoint.
type Config struct {
	ID     string
	Listen string
	// Token, when set, is required as a bearer token on every request.
	Token string
	// ReplyTimeout bounds how long a request waits for the runner's reply.
	ReplyTimeout time.Duration
}

// processRequest mirrors Home Assistant's conversation process payload.
type processRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	Language       string `json:"language,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
}

type speech struct {
	Plain struct {
		Speech string `json:"speech"`
	} `json:"plain"`
}

type intentResponse struct {
	ResponseType string            `json:"response_type"`
	Language     string            `json:"language,omitempty"`
	Speech       speech            `json:"speech"`
	Data         map[string]string `json:"data,omitempty"`
}

type processResponse struct {
	Response       intentResponse `json:"response"`
	ConversationID string         `json:"conversation_id"`
}

// Transport exposes a synchronous conversation endpoint: each request waits
// for the reply the runner sends back on the same conversation id.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	inbound chan<- core.InboundMessage
	pending map[string]chan core.OutboundMessage
	addr    net.Addr
}

// New creates an HTTP conversation transport.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if cfg.ID == "" {
		cfg.ID = "http"
	}
	if cfg.Listen == "" {
		return nil, errors.New("listen address required")
	}
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = 3 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg,
		logger:  logger.With(slog.String("transport", cfg.ID)),
		pending: make(map[string]chan core.OutboundMessage),
	}, nil
}

// ID returns transport identifier.
func (t *Transport) ID() string { return t.cfg.ID }

// Addr returns the bound listen address once Start is serving.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// Start serves the endpoint until ctx is canceled.
func (t *Transport) Start(ctx context.Context, inbound chan<- core.InboundMessage) error {
	ln, err := net.Listen("tcp", t.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.cfg.Listen, err)
	}
	t.mu.Lock()
	t.inbound = inbound
	t.addr = ln.Addr()
	t.mu.Unlock()

	srv := &nethttp.Server{Handler: t.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	t.logger.Info("conversation endpoint listening", slog.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Send delivers the reply to the request waiting on msg.ThreadID.
func (t *Transport) Send(ctx context.Context, msg core.OutboundMessage) error {
	t.mu.Lock()
	ch, ok := t.pending[msg.ThreadID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending request for conversation %q", msg.ThreadID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("conversation %q already answered", msg.ThreadID)
	}
}

// Handler returns the HTTP handler serving the endpoint.
func (t *Transport) Handler() nethttp.Handler {
	mux := nethttp.NewServeMux()
	mux.HandleFunc("GET /api/", t.authorized(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		writeJSON(w, nethttp.StatusOK, map[string]string{"message": "API running."})
	}))
	mux.HandleFunc("POST "+conversationPath, t.authorized(t.handleProcess))
	return mux
}

func (t *Transport) authorized(next nethttp.HandlerFunc) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if t.cfg.Token != "" && r.Header.Get("Authorization") != "Bearer "+t.cfg.Token {
			writeJSON(w, nethttp.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (t *Transport) handleProcess(w nethttp.ResponseWriter, r *nethttp.Request) {
	var req processRequest
	if err := json.NewDecoder(nethttp.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, nethttp.StatusBadRequest, map[string]string{"message": "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, nethttp.StatusBadRequest, map[string]string{"message": "text is required"})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	t.mu.Lock()
	inbound := t.inbound
	if inbound == nil {
		t.mu.Unlock()
		writeJSON(w, nethttp.StatusServiceUnavailable, map[string]string{"message": "not started"})
		return
	}
	if _, busy := t.pending[req.ConversationID]; busy {
		t.mu.Unlock()
		writeJSON(w, nethttp.StatusConflict, map[string]string{"message": "conversation already has a request in flight"})
		return
	}
	reply := make(chan core.OutboundMessage, 1)
	t.pending[req.ConversationID] = reply
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, req.ConversationID)
		t.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(r.Context(), t.cfg.ReplyTimeout)
	defer cancel()

	msg := core.InboundMessage{
		Transport: t.cfg.ID,
		Sender:    remoteHost(r),
		Text:      req.Text,
		ThreadID:  req.ConversationID,
		Language:  req.Language,
		AgentID:   req.AgentID,
	}
	select {
	case inbound <- msg:
	case <-ctx.Done():
		writeJSON(w, nethttp.StatusServiceUnavailable, map[string]string{"message": "runner busy"})
		return
	}

	select {
	case out := <-reply:
		writeJSON(w, nethttp.StatusOK, toResponse(out, req))
	case <-ctx.Done():
		t.logger.Warn("conversation reply timed out", slog.String("conversation", req.ConversationID))
		writeJSON(w, nethttp.StatusGatewayTimeout, map[string]string{"message": "timed out waiting for reply"})
	}
}

func toResponse(out core.OutboundMessage, req processRequest) processResponse {
	resp := processResponse{ConversationID: req.ConversationID}
	resp.Response.Language = req.Language
	resp.Response.Speech.Plain.Speech = out.Text
	if out.ErrorCode != "" {
		resp.Response.ResponseType = "error"
		resp.Response.Data = map[string]string{"code": out.ErrorCode}
	} else {
		resp.Response.ResponseType = "action_done"
	}
	return resp
}

func remoteHost(r *nethttp.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
