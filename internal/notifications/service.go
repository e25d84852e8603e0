package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pulp/internal/config"
)

const userAgent = "Pulp/0.1.0"

// Event identifies a notification-worthy milestone.
type Event string

const (
	EventBatchStarted   Event = "batch_started"
	EventBatchCompleted Event = "batch_completed"
	EventDocumentFailed Event = "document_failed"
	EventDaemonStarted  Event = "daemon_started"
	EventDaemonStopped  Event = "daemon_stopped"
	EventError          Event = "error"
	EventTest           Event = "test"
)

// Payload carries event-specific values used to format the message.
type Payload map[string]any

// Service defines the notification surface exposed to batch components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		settings: cfg.Notifications,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	settings config.Notifications
}

// Publish formats and delivers the event. Events disabled in configuration
// are dropped silently.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventBatchStarted, EventBatchCompleted:
		return n.settings.BatchComplete
	case EventDocumentFailed, EventError:
		return n.settings.Errors
	case EventDaemonStarted, EventDaemonStopped:
		return n.settings.Lifecycle
	default:
		return true
	}
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventBatchStarted:
		return message{
			title: "Pulp - Batch Started",
			body:  fmt.Sprintf("Started batch %s with %d documents", payloadString(payload, "batch_id"), payloadInt(payload, "total")),
			tags:  []string{"pulp", "batch", "started"},
		}, true
	case EventBatchCompleted:
		successful := payloadInt(payload, "successful")
		failed := payloadInt(payload, "failed")
		durationText := formatDuration(payloadDuration(payload, "duration"))
		batchID := payloadString(payload, "batch_id")
		if failed == 0 {
			return message{
				title: "Pulp - Batch Complete",
				body:  fmt.Sprintf("📚 Batch %s complete: %d documents ingested in %s", batchID, successful, durationText),
				tags:  []string{"pulp", "batch", "completed"},
			}, true
		}
		return message{
			title: "Pulp - Batch Complete (with errors)",
			body:  fmt.Sprintf("Batch %s complete: %d succeeded, %d failed in %s", batchID, successful, failed, durationText),
			tags:  []string{"pulp", "batch", "completed"},
		}, true
	case EventDocumentFailed:
		return message{
			title:    "Pulp - Document Failed",
			body:     fmt.Sprintf("❌ %s failed at %s: %s", payloadString(payload, "document"), payloadString(payload, "stage"), payloadString(payload, "error")),
			tags:     []string{"pulp", "document", "failed"},
			priority: "high",
		}, true
	case EventDaemonStarted:
		body := "Daemon started"
		if version := payloadString(payload, "version"); version != "" {
			body = fmt.Sprintf("Daemon started (version %s)", version)
		}
		return message{
			title: "Pulp - Daemon Started",
			body:  body,
			tags:  []string{"pulp", "daemon", "started"},
		}, true
	case EventDaemonStopped:
		return message{
			title: "Pulp - Daemon Stopped",
			body:  "Daemon stopped",
			tags:  []string{"pulp", "daemon", "stopped"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if contextLabel := payloadString(payload, "context"); contextLabel != "" {
			builder.WriteString(" with ")
			builder.WriteString(contextLabel)
		}
		builder.WriteString(": ")
		if errText := payloadString(payload, "error"); errText != "" {
			builder.WriteString(errText)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Pulp - Error",
			body:     builder.String(),
			tags:     []string{"pulp", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Pulp - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"pulp", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch value := payload[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case error:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(value.Error())
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	default:
		return ""
	}
}

func payloadInt(payload Payload, key string) int {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func payloadDuration(payload Payload, key string) time.Duration {
	if payload == nil {
		return 0
	}
	if value, ok := payload[key].(time.Duration); ok {
		return value
	}
	return 0
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
