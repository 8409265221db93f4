package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// payloadFunc renders an alert as the body one webhook type expects.
type payloadFunc func(a *Alert) any

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  httpPayload,
}

// colors per severity, without the leading '#'.
var colors = map[string]string{
	"critical": "D7263D",
	"warning":  "F49D37",
	"info":     "3F88C5",
}

const resolvedColor = "2E933C"

// deliver posts a to every configured webhook. Failures are logged only.
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
				"type", wh.Type, "rule", a.RuleName, "session", a.SessionID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "session", a.SessionID, "state", a.State)
	}
}

// headline is the one-line summary shared by chat payloads.
func headline(a *Alert) string {
	if a.State == StateResolved {
		return fmt.Sprintf("Resolved: %s on session %s (%s no longer holds)",
			a.RuleName, a.SessionID, a.Condition)
	}
	return fmt.Sprintf("%s: %s on session %s, %s is %s (threshold %s)",
		severityName(a.Severity), a.RuleName, a.SessionID,
		a.Metric, formatValue(a.Value), formatValue(a.Threshold))
}

func slackPayload(a *Alert) any {
	return map[string]any{
		"text": headline(a),
		"attachments": []map[string]any{{
			"color": "#" + alertColor(a),
			"fields": []map[string]any{
				{"title": "Session", "value": a.SessionID, "short": true},
				{"title": "Metric", "value": a.Metric, "short": true},
				{"title": "Condition", "value": a.Condition, "short": true},
				{"title": "Value", "value": formatValue(a.Value), "short": true},
			},
		}},
	}
}

func teamsPayload(a *Alert) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": alertColor(a),
		"summary":    headline(a),
		"title":      fmt.Sprintf("Stuck orders: %s (%s)", a.RuleName, a.State),
		"sections": []map[string]any{{
			"facts": []map[string]string{
				{"name": "Session", "value": a.SessionID},
				{"name": "Metric", "value": a.Metric},
				{"name": "Condition", "value": a.Condition},
				{"name": "Value", "value": formatValue(a.Value)},
				{"name": "Severity", "value": severityName(a.Severity)},
			},
		}},
	}
}

// httpPayload is the raw alert tagged with an event name.
func httpPayload(a *Alert) any {
	return map[string]any{"event": "alert." + a.State, "alert": a}
}

func (e *Engine) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alerts: encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("alerts: webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func alertColor(a *Alert) string {
	if a.State == StateResolved {
		return resolvedColor
	}
	if c, ok := colors[a.Severity]; ok {
		return c
	}
	return colors["info"]
}

func severityName(s string) string {
	switch s {
	case "critical":
		return "CRITICAL"
	case "warning":
		return "WARNING"
	default:
		return "INFO"
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
