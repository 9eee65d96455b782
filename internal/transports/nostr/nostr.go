package nostr

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/core"
	client "github.com/joelklabo/hassbuddy/internal/nostrclient"
	transport "github.com/joelklabo/hassbuddy/internal/transports"
)

func init() {
	transport.MustRegister("nostr", func(cfg config.TransportConfig, deps transport.Deps) (core.Transport, error) {
		tr, err := New(Config{
			ID:             cfg.ID,
			Relays:         cfg.Relays,
			PrivateKey:     cfg.PrivateKey,
			AllowedPubkeys: cfg.AllowedPubkeys,
		}, deps.State)
		if err != nil {
			return nil, err
		}
		tr.SetLogger(deps)
		return tr, nil
	})
}

// Config holds the parameters needed to run the Nostr transport.
type Config struct {
	ID             string
	Relays         []string
	PrivateKey     string
	AllowedPubkeys []string
}

// dmClient is the part of nostrclient.Client the transport uses.
type dmClient interface {
	Listen(ctx context.Context, handler func(context.Context, client.IncomingMessage)) error
	SendReply(ctx context.Context, toPubKey string, message string) error
}

// Transport implements core.Transport for Nostr DMs.
type Transport struct {
	id     string
	client dmClient
	raw    *client.Client
}

// New creates a Nostr transport.
func New(cfg Config, st client.State) (*Transport, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("nostr private key required")
	}
	if st == nil {
		return nil, errors.New("nostr transport needs a state store")
	}
	pub, err := nostr.GetPublicKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("derive pubkey: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = "nostr"
	}
	c := client.New(cfg.PrivateKey, pub, cfg.Relays, cfg.AllowedPubkeys, st)
	return &Transport{id: cfg.ID, client: c, raw: c}, nil
}

// SetLogger passes the shared logger to the relay client.
func (t *Transport) SetLogger(deps transport.Deps) {
	if t.raw != nil && deps.Logger != nil {
		t.raw.SetLogger(deps.Logger.With("transport", t.id))
	}
}

// ID returns transport identifier.
func (t *Transport) ID() string { return t.id }

// Start subscribes to Nostr DMs and pushes inbound messages.
func (t *Transport) Start(ctx context.Context, inbound chan<- core.InboundMessage) error {
	handler := func(msgCtx context.Context, msg client.IncomingMessage) {
		in := core.InboundMessage{
			Transport: t.id,
			Sender:    msg.SenderPubKey,
			Text:      msg.Plaintext,
			ThreadID:  msg.SenderPubKey,
		}
		if msg.Event != nil {
			in.Meta = map[string]any{"event_id": msg.Event.ID}
		}
		select {
		case inbound <- in:
		case <-msgCtx.Done():
		}
	}
	return t.client.Listen(ctx, handler)
}

// Send delivers a DM reply back to sender.
func (t *Transport) Send(ctx context.Context, msg core.OutboundMessage) error {
	if msg.Recipient == "" {
		return fmt.Errorf("nostr recipient missing")
	}
	return t.client.SendReply(ctx, msg.Recipient, msg.Text)
}
