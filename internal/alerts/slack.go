package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quantpilot/execution-pipeline/internal/observ"
)

// Config for the Slack webhook notifier. An empty webhook URL disables
// alerting entirely.
type Config struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

// RunAlert summarizes a finished pipeline pass for the ops channel.
type RunAlert struct {
	RunID        string
	Status       string
	HaltedReason string
	Trades       int
	Rejections   int
}

// Notifier posts run outcomes to a Slack webhook. Sends are synchronous and
// best-effort: a webhook failure is logged and counted, never surfaced to
// the pipeline.
type Notifier struct {
	cfg    Config
	client *http.Client
}

func NewNotifier(cfg Config) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Enabled() bool { return n.cfg.WebhookURL != "" }

func (n *Notifier) NotifyRun(ctx context.Context, alert RunAlert) {
	if !n.Enabled() {
		return
	}

	color := "good"
	text := fmt.Sprintf("Pipeline run %s completed: %d trades, %d rejections", alert.RunID, alert.Trades, alert.Rejections)
	if alert.Status == "HALTED" {
		color = "danger"
		text = fmt.Sprintf("Pipeline run %s HALTED: %s", alert.RunID, alert.HaltedReason)
	}
	msg := slackMessage{
		Channel: n.cfg.Channel,
		Text:    text,
		Attachments: []slackAttachment{{
			Color: color,
			Fields: []slackField{
				{Title: "Run", Value: alert.RunID, Short: true},
				{Title: "Status", Value: alert.Status, Short: true},
				{Title: "Trades", Value: fmt.Sprint(alert.Trades), Short: true},
				{Title: "Rejections", Value: fmt.Sprint(alert.Rejections), Short: true},
			},
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		observ.LogError("alert_marshal_failed", err, nil)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		observ.LogError("alert_request_failed", err, nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		observ.IncCounter("alert_webhook_errors_total", nil)
		observ.LogError("alert_send_failed", err, map[string]any{"run_id": alert.RunID})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		observ.IncCounter("alert_webhook_errors_total", nil)
		observ.Log("alert_send_rejected", map[string]any{"run_id": alert.RunID, "status": resp.StatusCode})
		return
	}
	observ.IncCounter("alerts_sent_total", nil)
}
