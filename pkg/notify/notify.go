// Package notify posts a JSON run summary to a configured webhook, so
// unattended cron runs can report into chat bridges or monitoring inboxes.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/httputil"
)

// EventType classifies a run summary.
type EventType string

const (
	EventRunSucceeded EventType = "run_succeeded"
	EventRunFailed    EventType = "run_failed"
)

// Event is the JSON payload posted after a run.
type Event struct {
	Type      EventType     `json:"type"`
	Host      string        `json:"host"`
	Message   string        `json:"message"`
	Renewed   []string      `json:"renewed,omitempty"`
	Failed    []string      `json:"failed,omitempty"`
	Reloaded  bool          `json:"reloaded"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Notifier sends run summaries. A Notifier with an empty URL is disabled and
// ignores every event.
type Notifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewNotifier creates a notifier posting to url.
func NewNotifier(url string, logger *slog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		client: httputil.NewClientWithTimeout(10 * time.Second),
		logger: logger.With("component", "notify"),
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.url != ""
}

// Notify posts the event. Delivery problems are returned so the caller can
// log them; they never affect the run's exit status.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if !n.Enabled() {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Host == "" {
		event.Host, _ = os.Hostname()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug("run summary delivered", "type", string(event.Type))
	return nil
}

// RunSucceededEvent summarizes a clean run.
func RunSucceededEvent(renewed []string, reloaded bool, duration time.Duration) Event {
	message := "all certificates are current"
	if len(renewed) > 0 {
		message = fmt.Sprintf("renewed %d certificate(s)", len(renewed))
	}
	return Event{
		Type:      EventRunSucceeded,
		Message:   message,
		Renewed:   renewed,
		Reloaded:  reloaded,
		Duration:  duration,
		Timestamp: time.Now(),
	}
}

// RunFailedEvent summarizes a run that exits non-zero.
func RunFailedEvent(renewed, failed []string, err error) Event {
	event := Event{
		Type:      EventRunFailed,
		Message:   "certificate renewal run failed",
		Renewed:   renewed,
		Failed:    failed,
		Timestamp: time.Now(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}
