package nostrclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// State persists relay cursors and processed event ids across restarts.
type State interface {
	AlreadyProcessed(id string) (bool, error)
	LastCursor(key string) (time.Time, error)
	SaveCursor(key string, t time.Time) error
	RecentMessageSeen(sender, plaintext string, window time.Duration) (bool, error)
}

// IncomingMessage is a decrypted DM sent to the bot.
type IncomingMessage struct {
	Event        *nostr.Event
	SenderPubKey string
	Plaintext    string
}

// Client wraps Nostr connectivity and send/receive helpers.
type Client struct {
	pool    Pool
	privKey string
	pubKey  string
	relays  []string
	state   State
	allowed map[string]struct{}
	logger  *slog.Logger

	replayWindow time.Duration
	resubscribe  time.Duration

	secretMu sync.Mutex
	secrets  map[string][]byte

	seen *seenIDs
}

// New constructs a client pointing at the provided relays.
func New(privKey, pubKey string, relays, allowedPubkeys []string, st State) *Client {
	return NewWithPool(privKey, pubKey, relays, allowedPubkeys, st, nostr.NewSimplePool(context.Background()))
}

// NewWithPool is New with an explicit relay pool.
func NewWithPool(privKey, pubKey string, relays, allowedPubkeys []string, st State, pool Pool) *Client {
	allowed := make(map[string]struct{}, len(allowedPubkeys))
	for _, pk := range allowedPubkeys {
		allowed[strings.ToLower(pk)] = struct{}{}
	}
	return &Client{
		pool:         pool,
		privKey:      privKey,
		pubKey:       strings.ToLower(pubKey),
		relays:       relays,
		state:        st,
		allowed:      allowed,
		logger:       slog.Default(),
		replayWindow: 30 * time.Second,
		resubscribe:  2 * time.Second,
		secrets:      make(map[string][]byte),
		seen:         newSeenIDs(),
	}
}

// SetLogger replaces the default logger.
func (c *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Listen subscribes to encrypted DMs addressed to this key and invokes handler
// for each new message. It resubscribes when the relay stream closes.
func (c *Client) Listen(ctx context.Context, handler func(context.Context, IncomingMessage)) error {
	if c.pool == nil {
		return errors.New("nil pool")
	}
	if c.state == nil {
		return errors.New("nil state")
	}

	for {
		events := c.pool.SubscribeMany(ctx, c.relays, c.buildFilter())
	stream:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ie, ok := <-events:
				if !ok {
					break stream
				}
				if msg, ok := c.accept(ie.Event); ok {
					go handler(ctx, msg)
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.resubscribe):
		}
	}
}

// accept filters and decrypts one event.
func (c *Client) accept(evt *nostr.Event) (IncomingMessage, bool) {
	if evt == nil || c.seen.Seen(evt.ID) {
		return IncomingMessage{}, false
	}
	already, err := c.state.AlreadyProcessed(evt.ID)
	if err != nil || already {
		return IncomingMessage{}, false
	}

	sender := strings.ToLower(evt.PubKey)
	if len(c.allowed) > 0 {
		if _, ok := c.allowed[sender]; !ok {
			c.logger.Debug("nostr sender not allowed", slog.String("sender", sender))
			return IncomingMessage{}, false
		}
	}

	secret, err := c.sharedSecret(sender)
	if err != nil {
		return IncomingMessage{}, false
	}
	plaintext, err := nip04.Decrypt(evt.Content, secret)
	if err != nil {
		c.logger.Warn("nostr decrypt failed", slog.String("event", evt.ID), slog.String("err", err.Error()))
		return IncomingMessage{}, false
	}

	if replay, err := c.state.RecentMessageSeen(sender, plaintext, c.replayWindow); err == nil && replay {
		c.logger.Debug("nostr replay dropped", slog.String("event", evt.ID))
		return IncomingMessage{}, false
	}
	_ = c.state.SaveCursor(sender, evt.CreatedAt.Time())

	return IncomingMessage{Event: evt, SenderPubKey: sender, Plaintext: plaintext}, true
}

func (c *Client) buildFilter() nostr.Filter {
	since := c.since()
	f := nostr.Filter{
		Kinds: []int{nostr.KindEncryptedDirectMessage},
		Since: &since,
		Tags:  nostr.TagMap{"p": []string{c.pubKey}},
	}
	if len(c.allowed) > 0 {
		f.Authors = c.allowedList()
	}
	return f
}

// since returns the oldest saved cursor among allowed senders, capped at two hours back.
func (c *Client) since() nostr.Timestamp {
	since := nostr.Timestamp(time.Now().Add(-2 * time.Hour).Unix())
	oldest := nostr.Now()
	found := false
	for pk := range c.allowed {
		if t, err := c.state.LastCursor(pk); err == nil && !t.IsZero() {
			ts := nostr.Timestamp(t.Unix())
			if ts < oldest {
				oldest = ts
				found = true
			}
		}
	}
	if found && oldest > since {
		return oldest
	}
	return since
}

// SendReply DMs a message back to the sender.
func (c *Client) SendReply(ctx context.Context, toPubKey, message string) error {
	secret, err := c.sharedSecret(toPubKey)
	if err != nil {
		return err
	}

	enc, err := nip04.Encrypt(message, secret)
	if err != nil {
		return fmt.Errorf("encrypt DM: %w", err)
	}

	ev := nostr.Event{
		PubKey:    c.pubKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{nostr.Tag{"p", toPubKey}},
		Content:   enc,
	}
	if err := ev.Sign(c.privKey); err != nil {
		return fmt.Errorf("sign DM: %w", err)
	}

	results := c.pool.PublishMany(ctx, c.relays, ev)
	var firstErr error
	for res := range results {
		if res.Error != nil && firstErr == nil {
			firstErr = res.Error
		}
	}
	return firstErr
}

func (c *Client) sharedSecret(peerPub string) ([]byte, error) {
	peerPub = strings.ToLower(peerPub)
	c.secretMu.Lock()
	if key, ok := c.secrets[peerPub]; ok {
		c.secretMu.Unlock()
		return key, nil
	}
	c.secretMu.Unlock()

	key, err := nip04.ComputeSharedSecret(peerPub, c.privKey)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	c.secretMu.Lock()
	c.secrets[peerPub] = key
	c.secretMu.Unlock()
	return key, nil
}

func (c *Client) allowedList() []string {
	res := make([]string, 0, len(c.allowed))
	for pk := range c.allowed {
		res = append(res, pk)
	}
	return res
}
