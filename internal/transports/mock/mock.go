package mock

import (
	"context"

	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/core"
	transport "github.com/joelklabo/hassbuddy/internal/transports"
)

func init() {
	transport.MustRegister("mock", func(cfg config.TransportConfig, _ transport.Deps) (core.Transport, error) {
		return New(cfg.ID), nil
	})
}

// Transport is an in-memory transport for tests and embedding.
type Transport struct {
	id       string
	Inbound  chan core.InboundMessage
	Outbound chan core.OutboundMessage
}

func New(id string) *Transport {
	if id == "" {
		id = "mock"
	}
	return &Transport{
		id:       id,
		Inbound:  make(chan core.InboundMessage, 32),
		Outbound: make(chan core.OutboundMessage, 32),
	}
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Start(ctx context.Context, in chan<- core.InboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-t.Inbound:
			if msg.Transport == "" {
				msg.Transport = t.id
			}
			select {
			case in <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (t *Transport) Send(ctx context.Context, msg core.OutboundMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.Outbound <- msg:
		return nil
	}
}
