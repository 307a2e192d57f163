// Package notify delivers operator notifications. Delivery is
// fire-and-forget and best-effort: a failed webhook or banner never
// affects control flow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Notifier is the outbound notification port. Components hold this
// interface so tests can capture notifications.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// Dispatcher fans a notification out to a webhook and the desktop.
type Dispatcher struct {
	// WebhookURL receives a JSON POST per notification. Empty disables.
	WebhookURL string

	// Desktop enables the OS notification banner.
	Desktop bool

	// Timeout bounds each delivery attempt.
	Timeout time.Duration

	// client is replaceable for tests.
	client *http.Client
}

// NewDispatcher creates a dispatcher. A zero timeout defaults to 10s.
func NewDispatcher(webhookURL string, desktop bool, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		WebhookURL: webhookURL,
		Desktop:    desktop,
		Timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
	}
}

// payload is the webhook body.
type payload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Notify delivers to all configured channels concurrently. Errors are
// swallowed; both channels are advisory surfaces.
func (d *Dispatcher) Notify(ctx context.Context, title, message string) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if d.WebhookURL != "" {
		g.Go(func() error {
			_ = d.postWebhook(ctx, title, message)
			return nil
		})
	}
	if d.Desktop {
		g.Go(func() error {
			_ = sendDesktop(ctx, title, message)
			return nil
		})
	}
	_ = g.Wait()
}

// postWebhook POSTs the notification, retrying once with jittered
// backoff on any failure.
func (d *Dispatcher) postWebhook(ctx context.Context, title, message string) error {
	body, err := json.Marshal(payload{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(CalculateBackoff(time.Second, attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = d.postOnce(ctx, body); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *Dispatcher) postOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// sendDesktop shows an OS notification banner. macOS uses osascript;
// Linux uses notify-send when present. Other platforms are a no-op.
func sendDesktop(ctx context.Context, title, message string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(
			`display notification %q with title %q sound name "default"`,
			escapeAppleScript(message), escapeAppleScript(title),
		)
		cmd := exec.CommandContext(ctx, "osascript", "-e", script)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return nil
		}
		return exec.CommandContext(ctx, "notify-send", title, message).Run()
	default:
		return nil
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Discard is a Notifier that drops everything; useful as a default and
// in tests that don't assert on notifications.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(context.Context, string, string) {}
