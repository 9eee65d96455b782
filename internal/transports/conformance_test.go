package transport_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/core"
	transport "github.com/joelklabo/hassbuddy/internal/transports"
	_ "github.com/joelklabo/hassbuddy/internal/transports/email"
	_ "github.com/joelklabo/hassbuddy/internal/transports/http"
	_ "github.com/joelklabo/hassbuddy/internal/transports/mock"
	_ "github.com/joelklabo/hassbuddy/internal/transports/nostr"
)

func TestBuiltinTypesRegistered(t *testing.T) {
	got := transport.RegisteredTypes()
	want := []string{"email", "http", "mock", "nostr"}
	if len(got) != len(want) {
		t.Fatalf("registered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("registered %v, want %v", got, want)
		}
	}
}

// Minimal contract checks for transports we can instantiate without secrets.
func TestTransportConformance(t *testing.T) {
	cfgs := []config.TransportConfig{
		{Type: "mock", ID: "mock1"},
		{Type: "http", ID: "http1", Listen: "127.0.0.1:0"},
	}
	for _, cfg := range cfgs {
		tr, err := transport.Build(cfg, transport.Deps{})
		if err != nil {
			t.Fatalf("%s: build: %v", cfg.Type, err)
		}
		if tr.ID() != cfg.ID {
			t.Fatalf("%s: id %q", cfg.Type, tr.ID())
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- tr.Start(ctx, make(chan core.InboundMessage, 1)) }()
		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Fatalf("%s: start returned %v", cfg.Type, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: Start did not return on cancel", cfg.Type)
		}
	}
}
