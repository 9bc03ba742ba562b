package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackChannel posts alerts to an incoming webhook
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Channel
func (s *SlackChannel) Name() string { return "slack" }

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func levelColor(level string) string {
	switch level {
	case "ERROR":
		return "danger"
	case "WARN":
		return "warning"
	default:
		return "good"
	}
}

// Send implements Channel
func (s *SlackChannel) Send(ctx context.Context, title, message, level string, fields map[string]string) error {
	att := slackAttachment{
		Color: levelColor(level),
		Ts:    time.Now().Unix(),
	}
	for k, v := range fields {
		att.Fields = append(att.Fields, slackField{Title: k, Value: v, Short: true})
	}
	payload := slackPayload{
		Text:        fmt.Sprintf("*%s*\n%s", title, message),
		Attachments: []slackAttachment{att},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
