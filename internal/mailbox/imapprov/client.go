package imapprov

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/jhillyerd/enmime"
	"github.com/rotisserie/eris"

	"github.com/seanmck/mailcorr/internal/correlate"
	"github.com/seanmck/mailcorr/internal/mailbox"
	"github.com/seanmck/mailcorr/internal/textutil"
)

// sentCandidates are common sent-folder names tried when the server does
// not advertise a \Sent attribute.
var sentCandidates = []string{"Sent", "Sent Items", "Sent Messages", "[Gmail]/Sent Mail"}

// Option is a functional option for Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client implements mailbox.Provider over IMAP. The connection is
// established lazily and reused; all operations serialize on an internal
// mutex since IMAP sessions are stateful.
type Client struct {
	config *Config
	logger *slog.Logger

	mu          sync.Mutex
	conn        *imapclient.Client
	selected    string // currently selected mailbox
	sentMailbox string // discovered sent-items mailbox
}

// NewClient creates an IMAP-backed provider.
func NewClient(cfg *Config, opts ...Option) *Client {
	c := &Client{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connect establishes and authenticates the connection. Caller holds mu.
func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}

	addr := c.config.Addr()
	c.logger.Debug("connecting to IMAP server", "addr", addr, "tls", c.config.TLS)

	var (
		conn *imapclient.Client
		err  error
	)
	switch {
	case c.config.TLS:
		conn, err = imapclient.DialTLS(addr, nil)
	case c.config.STARTTLS:
		conn, err = imapclient.DialStartTLS(addr, nil)
	default:
		conn, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return eris.Wrap(mailbox.ErrUnavailable, "dial IMAP "+addr+": "+err.Error())
	}

	if err := conn.Login(c.config.Username, c.config.Password).Wait(); err != nil {
		_ = conn.Close()
		return eris.Wrap(mailbox.ErrUnavailable, "IMAP login: "+err.Error())
	}

	c.conn = conn
	c.selected = ""
	return nil
}

// withConn runs fn with the active connection, connecting if necessary.
func (c *Client) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return eris.Wrap(mailbox.ErrUnavailable, err.Error())
	}
	if err := c.connect(); err != nil {
		return err
	}
	return fn(c.conn)
}

// selectMailbox selects a mailbox if not already selected. Caller holds mu.
func (c *Client) selectMailbox(name string) error {
	if c.selected == name {
		return nil
	}
	if _, err := c.conn.Select(name, nil).Wait(); err != nil {
		return eris.Wrap(mailbox.ErrUnavailable, "SELECT "+name+": "+err.Error())
	}
	c.selected = name
	return nil
}

// findSentMailbox discovers the sent-items mailbox, caching the result.
// Caller holds mu.
func (c *Client) findSentMailbox() (string, error) {
	if c.sentMailbox != "" {
		return c.sentMailbox, nil
	}

	items, err := c.conn.List("", "*", nil).Collect()
	if err != nil {
		return "", eris.Wrap(mailbox.ErrUnavailable, "LIST: "+err.Error())
	}

	var names []string
	for _, item := range items {
		names = append(names, item.Mailbox)
		for _, attr := range item.Attrs {
			if attr == imap.MailboxAttrSent {
				c.sentMailbox = item.Mailbox
			}
		}
	}
	if c.sentMailbox == "" {
		for _, candidate := range sentCandidates {
			for _, mb := range names {
				if strings.EqualFold(mb, candidate) {
					c.sentMailbox = mb
					break
				}
			}
			if c.sentMailbox != "" {
				break
			}
		}
	}
	if c.sentMailbox == "" {
		return "", eris.New("no sent mailbox found on server")
	}
	return c.sentMailbox, nil
}

// FetchInbox returns INBOX messages received within the last daysBack days.
func (c *Client) FetchInbox(ctx context.Context, daysBack int) ([]mailbox.MessageRecord, error) {
	since := time.Now().UTC().AddDate(0, 0, -daysBack)
	var msgs []mailbox.MessageRecord

	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox("INBOX"); err != nil {
			return err
		}

		searchData, err := conn.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
		if err != nil {
			return eris.Wrap(mailbox.ErrUnavailable, "UID SEARCH: "+err.Error())
		}
		uids := searchData.AllUIDs()
		if len(uids) == 0 {
			return nil
		}

		fetchOpts := &imap.FetchOptions{
			UID:          true,
			Envelope:     true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{{Peek: true}},
		}
		bufs, err := conn.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
		if err != nil {
			return eris.Wrap(mailbox.ErrUnavailable, "UID FETCH: "+err.Error())
		}

		for _, buf := range bufs {
			rec, ok := c.toRecord(buf)
			if !ok {
				continue
			}
			msgs = append(msgs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched inbox over IMAP", "days", daysBack, "messages", len(msgs))
	return mailbox.Dedupe(msgs), nil
}

// toRecord maps one fetched message to a MessageRecord.
func (c *Client) toRecord(buf *imapclient.FetchMessageBuffer) (mailbox.MessageRecord, bool) {
	env := buf.Envelope
	if env == nil {
		return mailbox.MessageRecord{}, false
	}

	receivedAt := buf.InternalDate
	if receivedAt.IsZero() {
		receivedAt = env.Date
	}
	if receivedAt.IsZero() {
		// ReceivedAt must always be present; a message without any date
		// cannot participate in range reads.
		c.logger.Warn("skipping message without a date", "subject", env.Subject)
		return mailbox.MessageRecord{}, false
	}

	rec := mailbox.MessageRecord{
		Subject:    textutil.EnsureUTF8(env.Subject),
		ReceivedAt: receivedAt.UTC(),
		Kind:       mailbox.KindMail,
	}

	if len(env.From) > 0 {
		rec.SenderName = textutil.EnsureUTF8(env.From[0].Name)
		if env.From[0].Mailbox != "" && env.From[0].Host != "" {
			rec.SenderAddress = env.From[0].Addr()
		}
	}
	for _, addr := range append(append([]imap.Address{}, env.To...), env.Cc...) {
		if addr.Mailbox != "" && addr.Host != "" {
			rec.Recipients = append(rec.Recipients, addr.Addr())
		} else if addr.Name != "" {
			rec.Recipients = append(rec.Recipients, mailbox.NamePrefix+addr.Name)
		}
	}

	if len(buf.BodySection) > 0 {
		raw := buf.BodySection[0].Bytes
		if mimeEnv, err := enmime.ReadEnvelope(bytes.NewReader(raw)); err == nil {
			rec.Body = textutil.EnsureUTF8(mimeEnv.Text)
			if strings.Contains(strings.ToLower(mimeEnv.GetHeader("Content-Type")), "multipart/report") {
				rec.Kind = mailbox.KindReport
				if rec.SenderAddress == "" && rec.SenderName == "" {
					rec.SenderName = "Mail Delivery System"
				}
			}
		}
	}

	return rec, true
}

// FetchSentMatching searches the sent mailbox for the most recent message
// to toEmail whose normalized subject equals normalizedSubject.
func (c *Client) FetchSentMatching(ctx context.Context, toEmail, normalizedSubject string, daysBack int) (*mailbox.ThreadHandle, error) {
	since := time.Now().UTC().AddDate(0, 0, -daysBack)
	var handle *mailbox.ThreadHandle

	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		sent, err := c.findSentMailbox()
		if err != nil {
			return err
		}
		if err := c.selectMailbox(sent); err != nil {
			return err
		}

		criteria := &imap.SearchCriteria{
			Since: since,
			Header: []imap.SearchCriteriaHeaderField{
				{Key: "To", Value: toEmail},
			},
		}
		searchData, err := conn.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return eris.Wrap(mailbox.ErrUnavailable, "UID SEARCH sent: "+err.Error())
		}
		uids := searchData.AllUIDs()
		if len(uids) == 0 {
			return nil
		}

		fetchOpts := &imap.FetchOptions{UID: true, Envelope: true, InternalDate: true}
		bufs, err := conn.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
		if err != nil {
			return eris.Wrap(mailbox.ErrUnavailable, "UID FETCH sent: "+err.Error())
		}

		for _, buf := range bufs {
			if buf.Envelope == nil {
				continue
			}
			if correlate.NormalizeSubject(buf.Envelope.Subject) != normalizedSubject {
				continue
			}
			at := buf.InternalDate
			if at.IsZero() {
				at = buf.Envelope.Date
			}
			if handle == nil || at.After(handle.ReceivedAt) {
				handle = &mailbox.ThreadHandle{
					ID:         buf.Envelope.MessageID,
					Subject:    buf.Envelope.Subject,
					ReceivedAt: at.UTC(),
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Logout().Wait()
	c.conn = nil
	return err
}
