package email

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/core"
	transport "github.com/joelklabo/hassbuddy/internal/transports"
)

func init() {
	transport.MustRegister("email", func(cfg config.TransportConfig, deps transport.Deps) (core.Transport, error) {
		tr, err := New(fromTransportConfig(cfg), deps.State, deps.Logger)
		if err != nil {
			return nil, err
		}
		return tr, nil
	})
}

// mailbox is the subset of the IMAP client used for polling.
type mailbox interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

// Processed records message ids that were already handled.
type Processed interface {
	AlreadyProcessed(id string) (bool, error)
}

// Transport implements a polling IMAP receive + SMTP send.
type Transport struct {
	cfg       Config
	processed Processed
	logger    *slog.Logger

	dial     func(addr string) (mailbox, error)
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

	mu       sync.Mutex
	subjects map[string]string
}

func New(cfg Config, processed Processed, logger *slog.Logger) (*Transport, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:       cfg,
		processed: processed,
		logger:    logger.With(slog.String("transport", cfg.ID)),
		dial: func(addr string) (mailbox, error) {
			c, err := imapclient.DialTLS(addr, nil)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		sendMail: smtp.SendMail,
		subjects: make(map[string]string),
	}, nil
}

func (t *Transport) ID() string { return t.cfg.ID }

func (t *Transport) Start(ctx context.Context, inbound chan<- core.InboundMessage) error {
	for {
		if err := t.pollOnce(ctx, inbound); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn("imap poll failed", slog.String("err", err.Error()))
		}
		select {
		case <-time.After(t.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transport) pollOnce(ctx context.Context, inbound chan<- core.InboundMessage) error {
	c, err := t.dial(fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = c.Logout() }()

	if err := c.Login(t.cfg.Username, t.cfg.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if _, err := c.Select(t.cfg.Folder, false); err != nil {
		return fmt.Errorf("select %s: %w", t.cfg.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}, messages)
	}()

	var collected []core.InboundMessage
	for msg := range messages {
		if in, ok := t.toInbound(msg, section); ok {
			collected = append(collected, in)
		}
	}
	if err := <-done; err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil); err != nil {
		t.logger.Warn("mark seen failed", slog.String("err", err.Error()))
	}

	for _, in := range collected {
		select {
		case inbound <- in:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *Transport) toInbound(msg *imap.Message, section *imap.BodySectionName) (core.InboundMessage, bool) {
	if msg == nil || msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return core.InboundMessage{}, false
	}
	env := msg.Envelope
	id := env.MessageId
	if id == "" {
		id = fmt.Sprintf("%s/%d", t.cfg.Folder, msg.Uid)
	}
	if t.processed != nil {
		if seen, err := t.processed.AlreadyProcessed("email:" + id); err != nil || seen {
			return core.InboundMessage{}, false
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return core.InboundMessage{}, false
	}
	text, err := textBody(r)
	if err != nil {
		t.logger.Warn("unreadable message", slog.String("message_id", id), slog.String("err", err.Error()))
		return core.InboundMessage{}, false
	}
	text = stripQuoted(text)
	if text == "" {
		text = env.Subject
	}

	t.mu.Lock()
	t.subjects[id] = env.Subject
	t.mu.Unlock()

	return core.InboundMessage{
		Transport: t.ID(),
		Sender:    strings.ToLower(env.From[0].Address()),
		Text:      text,
		ThreadID:  id,
		Meta: map[string]any{
			"subject":    env.Subject,
			"message_id": env.MessageId,
		},
	}, true
}

func (t *Transport) Send(ctx context.Context, msg core.OutboundMessage) error {
	if msg.Recipient == "" {
		return errors.New("email recipient missing")
	}
	t.mu.Lock()
	subject, ok := t.subjects[msg.ThreadID]
	delete(t.subjects, msg.ThreadID)
	t.mu.Unlock()
	if !ok || subject == "" {
		subject = "Your automation request"
	}
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	data, err := composeReply(t.cfg.Username, msg.Recipient, subject, msg.ThreadID, msg.Text)
	if err != nil {
		return err
	}
	auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.SMTPHost)
	return t.sendMail(fmt.Sprintf("%s:%d", t.cfg.SMTPHost, t.cfg.SMTPPort), auth, t.cfg.Username, []string{msg.Recipient}, data)
}

// textBody returns the first text/plain part of a message.
func textBody(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", err
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "" && ct != "text/plain" {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
}

// stripQuoted drops quoted history and signatures from a reply body.
func stripQuoted(body string) string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "--" || (strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:")) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func composeReply(from, to, subject, inReplyTo, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	if strings.Contains(inReplyTo, "@") {
		ref := "<" + strings.Trim(inReplyTo, "<>") + ">"
		h.Set("In-Reply-To", ref)
		h.Set("References", ref)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("compose reply: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("compose reply: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compose reply: %w", err)
	}
	return buf.Bytes(), nil
}
