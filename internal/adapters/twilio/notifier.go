// Package twilio sends run notifications as SMS through the Twilio REST API.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
)

// DefaultBaseURL is the Twilio REST API root.
const DefaultBaseURL = "https://api.twilio.com"

const sendTimeout = 15 * time.Second

// Notifier queues SMS sends on a single worker so callers never wait on
// Twilio. Send only reports errors it can detect before queuing.
type Notifier struct {
	logger     *slog.Logger
	client     *http.Client
	baseURL    string
	from       string
	accountSID string
	authToken  string
	workerPool *workerpool.WorkerPool

	mu     sync.Mutex // guards closed and Submit against Close
	closed bool
}

var _ ports.Notifier = (*Notifier)(nil)

func NewNotifier(logger *slog.Logger, from, accountSID, authToken, baseURL string) *Notifier {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Notifier{
		logger:     logger,
		client:     &http.Client{Timeout: sendTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		from:       from,
		accountSID: accountSID,
		authToken:  authToken,
		workerPool: workerpool.New(1), // sequential sends
	}
}

// Send queues one SMS. The send outlives ctx cancellation but keeps its
// values.
func (n *Notifier) Send(ctx context.Context, to, text string) error {
	if to == "" {
		return errors.New("sms recipient is empty")
	}
	if n.accountSID == "" || n.authToken == "" || n.from == "" {
		return errors.New("twilio credentials are not configured")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("notifier is closed")
	}

	sendCtx := context.WithoutCancel(ctx)
	n.workerPool.Submit(func() {
		ctx, cancel := context.WithTimeout(sendCtx, sendTimeout)
		defer cancel()
		if err := n.send(ctx, to, text); err != nil {
			n.logger.Warn("sms notification failed", "to", to, "error", err)
			return
		}
		n.logger.Info("sms notification sent", "to", to)
	})
	return nil
}

func (n *Notifier) send(ctx context.Context, to, text string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.baseURL, url.PathEscape(n.accountSID))
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", n.from)
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(n.accountSID, n.authToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call twilio: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twilio returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Close rejects further sends and waits for queued ones to finish.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.workerPool.StopWait()
}
