package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 2 * time.Second

// WebhookSink posts guard events to an HTTP endpoint (PagerDuty, custom
// dashboard, alerting relay). Delivery is fire-and-forget with a bounded
// timeout; failures are silently dropped so telemetry can never block or
// break the guard.
type WebhookSink struct {
	url        string
	authHeader string // e.g. "Bearer sk-..."
	client     *http.Client
}

// NewWebhookSink creates a WebhookSink. authHeader may be empty.
func NewWebhookSink(url, authHeader string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSink{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Emit(e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	go s.post(body)
}

func (s *WebhookSink) post(body []byte) {
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authHeader != "" {
		req.Header.Set("Authorization", s.authHeader)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

// slackEmoji maps event names to message indicators.
var slackEmoji = map[string]string{
	EventCacheHit:           "🔄",
	EventIdenticalLoopBlock: "🛑",
	EventJitterQuarantine:   "🔒",
	EventIdempotentReplay:   "🔁",
	EventSideEffectLimit:    "⛔",
	EventQuarantinedBlock:   "🚫",
	EventQuarantineError:    "💥",
	EventBudgetWarning:      "⚠️",
	EventBudgetExceeded:     "🚨",
	EventStallRewrite:       "🌀",
	EventStallEscalate:      "⏹️",
}

// SlackSink formats guard events as human-readable Slack messages and sends
// them via an incoming webhook. Same delivery semantics as WebhookSink.
type SlackSink struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackSink creates a SlackSink. channel may be empty to use the
// webhook's default.
func NewSlackSink(webhookURL, channel string, timeout time.Duration) *SlackSink {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &SlackSink{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *SlackSink) Emit(e Event) {
	emoji := slackEmoji[e.Name]
	if emoji == "" {
		emoji = "🛡️"
	}

	lines := []string{fmt.Sprintf("%s *runguard* — `%s`", emoji, e.Name)}
	if e.Tool != "" {
		lines = append(lines, fmt.Sprintf("Tool: `%s`", e.Tool))
	}
	if e.Reason != "" && e.Reason != e.Name {
		lines = append(lines, "Reason: "+e.Reason)
	}
	if e.CostAvoided != 0 {
		lines = append(lines, fmt.Sprintf("Cost avoided: $%.4f", e.CostAvoided))
	}

	payload := map[string]any{"text": strings.Join(lines, "\n")}
	if s.channel != "" {
		payload["channel"] = s.channel
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	go func() {
		resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			return
		}
		_ = resp.Body.Close()
	}()
}
