package vapi

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/shipvox/shipvox-backend/pkg/errors"
)

// Webhook message types delivered by the provider.
const (
	EventStatusUpdate    = "status-update"
	EventEndOfCallReport = "end-of-call-report"
)

// WebhookMessage is the inner message block of a provider webhook. The
// end-of-call-report carries top-level analysis/artifact fields alongside the
// embedded call object; status-update carries only the call.
type WebhookMessage struct {
	Type            string    `json:"type"`
	Call            *Call     `json:"call"`
	Status          string    `json:"status"`
	EndedReason     string    `json:"endedReason"`
	Cost            float64   `json:"cost"`
	DurationSeconds *int      `json:"durationSeconds"`
	Analysis        *Analysis `json:"analysis"`
	Artifact        *Artifact `json:"artifact"`
	Transcript      string    `json:"transcript"`
	RecordingURL    string    `json:"recordingUrl"`
}

// WebhookEvent is one decoded provider webhook delivery.
type WebhookEvent struct {
	Message WebhookMessage `json:"message"`

	Raw json.RawMessage `json:"-"`
}

// CallID returns the provider call id the event refers to, if any.
func (e *WebhookEvent) CallID() string {
	if e == nil || e.Message.Call == nil {
		return ""
	}
	return strings.TrimSpace(e.Message.Call.ID)
}

// MergedCall flattens the event into a call object carrying the freshest
// outcome fields. End-of-call reports override the embedded call's values
// with the report-level ones.
func (e *WebhookEvent) MergedCall() *Call {
	if e == nil || e.Message.Call == nil {
		return nil
	}
	call := *e.Message.Call
	msg := e.Message

	if msg.Type == EventEndOfCallReport {
		if msg.EndedReason != "" {
			call.EndedReason = msg.EndedReason
		}
		if msg.Cost > 0 {
			call.Cost = msg.Cost
		}
		if msg.DurationSeconds != nil {
			call.DurationSeconds = msg.DurationSeconds
		}
		if msg.Analysis != nil {
			call.Analysis = msg.Analysis
		}
		if msg.Artifact != nil {
			call.Artifact = msg.Artifact
		}
		if msg.Transcript != "" {
			call.Transcript = msg.Transcript
		}
		if msg.RecordingURL != "" {
			call.RecordingURL = msg.RecordingURL
		}
	}
	if call.Raw == nil {
		call.Raw = e.Raw
	}
	return &call
}

// ParseWebhookEvent decodes a webhook body, keeping the raw payload attached.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	event.Raw = body
	return &event, nil
}
