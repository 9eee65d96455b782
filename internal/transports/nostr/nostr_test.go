package nostr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/joelklabo/hassbuddy/internal/core"
	client "github.com/joelklabo/hassbuddy/internal/nostrclient"
	"github.com/joelklabo/hassbuddy/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir() + "/state.db")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewMissingKey(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestNewMissingState(t *testing.T) {
	if _, err := New(Config{PrivateKey: nostr.GeneratePrivateKey()}, nil); err == nil {
		t.Fatalf("expected error for missing state")
	}
}

func TestNewAndID(t *testing.T) {
	tr, err := New(Config{PrivateKey: nostr.GeneratePrivateKey()}, newStore(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if tr.ID() != "nostr" {
		t.Fatalf("id mismatch")
	}
}

type stubClient struct {
	listenErr error
	sendErr   error
	deliver   []client.IncomingMessage
	sentTo    string
}

func (s *stubClient) Listen(ctx context.Context, handler func(context.Context, client.IncomingMessage)) error {
	for _, m := range s.deliver {
		handler(ctx, m)
	}
	return s.listenErr
}

func (s *stubClient) SendReply(ctx context.Context, toPubKey string, message string) error {
	s.sentTo = toPubKey
	return s.sendErr
}

func TestStartPushesInbound(t *testing.T) {
	tr := &Transport{id: "dm", client: &stubClient{
		listenErr: context.Canceled,
		deliver:   []client.IncomingMessage{{SenderPubKey: "abc", Plaintext: "lights on", Event: &nostr.Event{ID: "e1"}}},
	}}
	in := make(chan core.InboundMessage, 1)
	_ = tr.Start(context.Background(), in)
	select {
	case msg := <-in:
		if msg.Transport != "dm" || msg.Sender != "abc" || msg.ThreadID != "abc" || msg.Text != "lights on" || msg.Meta["event_id"] != "e1" {
			t.Fatalf("unexpected inbound %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no inbound")
	}
}

func TestSendMissingRecipient(t *testing.T) {
	tr := &Transport{id: "nostr", client: &stubClient{}}
	if err := tr.Send(context.Background(), core.OutboundMessage{}); err == nil {
		t.Fatalf("expected error for missing recipient")
	}
}

func TestSendPropagatesClientError(t *testing.T) {
	sc := &stubClient{sendErr: errors.New("boom")}
	tr := &Transport{id: "nostr", client: sc}
	if err := tr.Send(context.Background(), core.OutboundMessage{Recipient: "npub1", Text: "hi"}); err == nil {
		t.Fatalf("expected send error to bubble")
	}
	if sc.sentTo != "npub1" {
		t.Fatalf("recipient not passed: %q", sc.sentTo)
	}
}

func TestStartReturnsClientError(t *testing.T) {
	tr := &Transport{id: "nostr", client: &stubClient{listenErr: errors.New("listen fail")}}
	err := tr.Start(context.Background(), make(chan core.InboundMessage))
	if err == nil || err.Error() != "listen fail" {
		t.Fatalf("unexpected err: %v", err)
	}
}
