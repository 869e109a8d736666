// Package bridge implements mailbox.Provider against the desktop
// mail-client automation sidecar: a localhost HTTP shim in front of the
// mail client's scripting interface. The sidecar is slow and fragile, so
// every call carries a hard timeout and failures are classified for the
// cache layer to fall back on.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seanmck/mailcorr/internal/mailbox"
)

// DefaultTimeout bounds a single sidecar call. Large lookback windows can
// take minutes; anything beyond this is treated as a provider failure,
// not a hang.
const DefaultTimeout = 10 * time.Minute

// Client talks to the automation sidecar over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option is a functional option for Client.
type Option func(*Client)

// WithTimeout sets the per-call hard timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient overrides the underlying HTTP client, for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a bridge client for the sidecar at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireMessage is the sidecar's JSON shape for one mailbox item.
type wireMessage struct {
	Subject       string   `json:"subject"`
	SenderName    string   `json:"senderName"`
	SenderAddress string   `json:"senderAddress"`
	Recipients    []string `json:"recipients"`
	ReceivedAt    string   `json:"receivedAt"`
	Body          string   `json:"body"`
	ItemType      string   `json:"itemType"`
}

// receivedAtLayouts are the timestamp forms the sidecar has been seen to
// emit. The mail client reports local time with no timezone guarantee.
var receivedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseReceivedAt(s string) (time.Time, error) {
	for _, layout := range receivedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FetchInbox returns inbox messages from the last daysBack days.
func (c *Client) FetchInbox(ctx context.Context, daysBack int) ([]mailbox.MessageRecord, error) {
	endpoint := c.baseURL + "/inbox?days=" + strconv.Itoa(daysBack)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var wire []wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, eris.Wrap(mailbox.ErrMalformed, "decode inbox payload: "+err.Error())
	}

	msgs := make([]mailbox.MessageRecord, 0, len(wire))
	for _, w := range wire {
		at, err := parseReceivedAt(w.ReceivedAt)
		if err != nil {
			// A single bad record should not sink a multi-minute fetch.
			c.logger.Warn("skipping message with unparseable timestamp",
				"subject", w.Subject, "received_at", w.ReceivedAt)
			continue
		}
		kind := mailbox.KindMail
		if strings.EqualFold(w.ItemType, "report") {
			kind = mailbox.KindReport
		}
		msgs = append(msgs, mailbox.MessageRecord{
			Subject:       w.Subject,
			SenderName:    w.SenderName,
			SenderAddress: w.SenderAddress,
			Recipients:    w.Recipients,
			ReceivedAt:    at,
			Body:          w.Body,
			Kind:          kind,
		})
	}

	c.logger.Debug("fetched inbox from bridge", "days", daysBack, "messages", len(msgs))
	return msgs, nil
}

// wireThread is the sidecar's JSON shape for a sent-items lookup.
type wireThread struct {
	Found      bool   `json:"found"`
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	ReceivedAt string `json:"receivedAt"`
}

// FetchSentMatching returns the most recent sent message to toEmail whose
// normalized subject equals normalizedSubject, or nil when none exists.
func (c *Client) FetchSentMatching(ctx context.Context, toEmail, normalizedSubject string, daysBack int) (*mailbox.ThreadHandle, error) {
	q := url.Values{}
	q.Set("to", toEmail)
	q.Set("subject", normalizedSubject)
	q.Set("days", strconv.Itoa(daysBack))
	endpoint := c.baseURL + "/sent?" + q.Encode()

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var wire wireThread
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, eris.Wrap(mailbox.ErrMalformed, "decode sent payload: "+err.Error())
	}
	if !wire.Found || wire.ID == "" {
		return nil, nil
	}

	at, err := parseReceivedAt(wire.ReceivedAt)
	if err != nil {
		return nil, eris.Wrap(mailbox.ErrMalformed, err.Error())
	}
	return &mailbox.ThreadHandle{ID: wire.ID, Subject: wire.Subject, ReceivedAt: at}, nil
}

// get performs one sidecar request under the hard timeout and classifies
// failures.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "build bridge request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(mailbox.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(mailbox.ErrUnavailable,
			fmt.Sprintf("bridge returned %d for %s", resp.StatusCode, endpoint))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(mailbox.ErrUnavailable, "read bridge response: "+err.Error())
	}
	return body, nil
}
