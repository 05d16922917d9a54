package alerts

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// payloadFunc renders an alert into the body expected by one webhook type.
type payloadFunc func(a *Alert) interface{}

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  func(a *Alert) interface{} { return map[string]*Alert{"alert": a} },
}

// deliver posts a to every configured webhook. Webhooks whose URL variable is
// unset are skipped; failures are logged and never retried.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err := e.post(url, render(a)); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"subject", a.SubjectID,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

func (e *Engine) post(url string, body interface{}) error {
	resp, err := e.client.R().SetBody(body).Post(url)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode())
	}
	return nil
}

// headline is the one-line summary shared by the chat payloads, e.g.
// "[CRITICAL] ward-3: stressed (value 0.82)".
func headline(a *Alert) string {
	return fmt.Sprintf("%s %s: %s (value %s)",
		label(a), a.SubjectID, a.RuleName, strconv.FormatFloat(a.Value, 'f', 2, 64))
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color string `json:"color"`
	Text  string `json:"text"`
}

func slackPayload(a *Alert) interface{} {
	return slackMessage{
		Text:        "*" + headline(a) + "*",
		Attachments: []slackAttachment{{Color: "#" + color(a), Text: a.Message}},
	}
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func teamsPayload(a *Alert) interface{} {
	facts := []teamsFact{
		{Name: "Subject", Value: a.SubjectID},
		{Name: "Rule", Value: a.RuleName},
		{Name: "Value", Value: strconv.FormatFloat(a.Value, 'f', 2, 64)},
		{Name: "Fired", Value: a.FiredAt.UTC().Format(time.RFC3339)},
	}
	if a.ResolvedAt != nil {
		facts = append(facts, teamsFact{Name: "Resolved", Value: a.ResolvedAt.UTC().Format(time.RFC3339)})
	}
	return map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color(a),
		"summary":    headline(a),
		"title":      fmt.Sprintf("CalmSignal alert %s: %s", a.State, a.SubjectID),
		"sections": []map[string]interface{}{
			{"activityTitle": a.Message, "facts": facts},
		},
	}
}

func label(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func color(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
