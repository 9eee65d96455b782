package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/core"
	transport "github.com/joelklabo/hassbuddy/internal/transports"
)

// echoRunner answers every inbound message through tr, like core.Runner does.
func echoRunner(t *testing.T, tr *Transport, errorCode string) chan core.InboundMessage {
	t.Helper()
	in := make(chan core.InboundMessage, 4)
	tr.mu.Lock()
	tr.inbound = in
	tr.mu.Unlock()
	seen := make(chan core.InboundMessage, 4)
	go func() {
		for msg := range in {
			seen <- msg
			_ = tr.Send(context.Background(), core.OutboundMessage{
				Transport: msg.Transport,
				Recipient: msg.Sender,
				ThreadID:  msg.ThreadID,
				Text:      "reply to " + msg.Text,
				ErrorCode: errorCode,
			})
		}
	}()
	t.Cleanup(func() { close(in) })
	return seen
}

func post(t *testing.T, srv *httptest.Server, token string, body any) (*nethttp.Response, processResponse) {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := nethttp.NewRequest(nethttp.MethodPost, srv.URL+conversationPath, bytes.NewReader(b))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := nethttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out processResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestProcessRoundTrip(t *testing.T) {
	tr, _ := New(Config{Listen: "127.0.0.1:0"}, nil)
	seen := echoRunner(t, tr, "")
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	resp, out := post(t, srv, "", map[string]string{"text": "lights on", "conversation_id": "c1", "language": "en", "agent_id": "main"})
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if out.ConversationID != "c1" || out.Response.Speech.Plain.Speech != "reply to lights on" {
		t.Fatalf("unexpected response %+v", out)
	}
	if out.Response.ResponseType != "action_done" || out.Response.Language != "en" {
		t.Fatalf("unexpected response type %+v", out.Response)
	}
	msg := <-seen
	if msg.AgentID != "main" || msg.Language != "en" || msg.Transport != "http" {
		t.Fatalf("unexpected inbound %+v", msg)
	}
}

func TestProcessAssignsConversationID(t *testing.T) {
	tr, _ := New(Config{Listen: "127.0.0.1:0"}, nil)
	echoRunner(t, tr, "")
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	_, out := post(t, srv, "", map[string]string{"text": "hi"})
	if len(out.ConversationID) != 36 {
		t.Fatalf("expected uuid conversation id, got %q", out.ConversationID)
	}
}

func TestProcessErrorResponse(t *testing.T) {
	tr, _ := New(Config{Listen: "127.0.0.1:0"}, nil)
	echoRunner(t, tr, core.ErrorCodeUnknown)
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	_, out := post(t, srv, "", map[string]string{"text": "hi"})
	if out.Response.ResponseType != "error" || out.Response.Data["code"] != "unknown" {
		t.Fatalf("expected error response, got %+v", out.Response)
	}
}

func TestProcessRequiresToken(t *testing.T) {
	tr, _ := New(Config{Listen: "127.0.0.1:0", Token: "secret"}, nil)
	echoRunner(t, tr, "")
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	if resp, _ := post(t, srv, "", map[string]string{"text": "hi"}); resp.StatusCode != nethttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp, _ := post(t, srv, "secret", map[string]string{"text": "hi"}); resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestProcessRejectsEmptyText(t *testing.T) {
	tr, _ := New(Config{Listen: "127.0.0.1:0"}, nil)
	echoRunner(t, tr, "")
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	if resp, _ := post(t, srv, "", map[string]string{"text": "  "}); resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestProcessTimesOut(t *testing.T) {
	tr, _ := New(Config{Listen: "127.0.0.1:0", ReplyTimeout: 50 * time.Millisecond}, nil)
	tr.inbound = make(chan core.InboundMessage, 1)
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	if resp, _ := post(t, srv, "", map[string]string{"text": "hi"}); resp.StatusCode != nethttp.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

func TestSendWithoutPending(t *testing.T) {
	tr, _ := New(Config{Listen: "127.0.0.1:0"}, nil)
	if err := tr.Send(context.Background(), core.OutboundMessage{ThreadID: "nope"}); err == nil {
		t.Fatalf("expected error for unknown conversation")
	}
}

func TestStartServesUntilCanceled(t *testing.T) {
	tr, _ := New(Config{Listen: "127.0.0.1:0"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx, make(chan core.InboundMessage, 1)) }()

	deadline := time.Now().Add(2 * time.Second)
	for tr.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if tr.Addr() == nil {
		t.Fatal("transport did not bind")
	}
	resp, err := nethttp.Get("http://" + tr.Addr().String() + "/api/")
	if err != nil || resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("health: %v %v", resp, err)
	}
	resp.Body.Close()
	cancel()
	<-done
}

func TestFactoryUsesReplyTimeout(t *testing.T) {
	tr, err := transport.Build(config.TransportConfig{Type: "http", ID: "conv", Listen: "127.0.0.1:0", ReplyTimeoutSeconds: 7}, transport.Deps{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ht, ok := tr.(*Transport)
	if !ok {
		t.Fatalf("unexpected transport type %T", tr)
	}
	if ht.cfg.ReplyTimeout != 7*time.Second {
		t.Fatalf("reply timeout: %v", ht.cfg.ReplyTimeout)
	}

	tr, _ = transport.Build(config.TransportConfig{Type: "http", ID: "conv2", Listen: "127.0.0.1:0"}, transport.Deps{})
	if got := tr.(*Transport).cfg.ReplyTimeout; got != 3*time.Minute {
		t.Fatalf("fallback reply timeout: %v", got)
	}
}
