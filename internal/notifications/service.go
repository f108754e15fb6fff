package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyforge/internal/config"
)

const userAgent = "storyforge/0.1.0"

// Event identifies a workflow milestone worth telling someone about.
type Event string

const (
	EventStoryPublished Event = "story_published"
	EventStageFailed    Event = "stage_failed"
	EventFanOut         Event = "fan_out"
	EventRunStarted     Event = "run_started"
	EventError          Event = "error"
	EventTest           Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service publishes workflow events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
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
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

// format renders an event. Events that should not produce a push return false.
func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventStoryPublished:
		title := payloadString(payload, "title")
		if title == "" {
			title = "untitled"
		}
		return message{
			title:    "storyforge - Published",
			body:     fmt.Sprintf("📖 Story #%s published: %s", payloadString(payload, "story_id"), title),
			tags:     []string{"storyforge", "story", "published"},
			priority: "high",
		}, true
	case EventStageFailed:
		return message{
			title: "storyforge - Stage Failed",
			body: fmt.Sprintf("⚠️ %s failed for story #%s: %s",
				payloadString(payload, "stage"), payloadString(payload, "story_id"), payloadString(payload, "error")),
			tags: []string{"storyforge", "stage", "failed"},
		}, true
	case EventFanOut:
		return message{
			title: "storyforge - New Idea",
			body:  fmt.Sprintf("💡 %s stories created for idea %s", payloadString(payload, "count"), payloadString(payload, "idea")),
			tags:  []string{"storyforge", "idea", "fanout"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := payloadString(payload, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := payloadString(payload, "error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "storyforge - Error",
			body:     builder.String(),
			tags:     []string{"storyforge", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "storyforge - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"storyforge", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func payloadString(payload Payload, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
