package provider

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NormalizeFunc reduces one provider's raw webhook body to the canonical
// event. The bool result is false when the event type is irrelevant and should
// be acknowledged without processing.
type NormalizeFunc func(body []byte) (NormalizedCallEvent, bool, error)

var normalizers = map[string]NormalizeFunc{
	"vapi": NormalizeVapiEvent,
}

// Normalize dispatches to the registered normalizer for providerName.
func Normalize(providerName string, body []byte) (NormalizedCallEvent, bool, error) {
	fn, ok := normalizers[providerName]
	if !ok {
		return NormalizedCallEvent{}, false, fmt.Errorf("provider: no webhook normalizer for %q", providerName)
	}
	return fn(body)
}

// Vapi wraps every webhook in a "message" envelope. Completed-call fields may
// appear on the message, the call object, or both; message-level values win
// because they are fresher on end-of-call reports.

type vapiWebhookEnvelope struct {
	Message vapiWebhookMessage `json:"message"`
}

type vapiWebhookMessage struct {
	Type string `json:"type"`

	Call vapiWebhookCall `json:"call"`

	Status          string        `json:"status,omitempty"`
	EndedReason     string        `json:"endedReason,omitempty"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
	DurationSeconds float64       `json:"durationSeconds,omitempty"`
	Cost            float64       `json:"cost,omitempty"`
	Artifact        *vapiArtifact `json:"artifact,omitempty"`
	Analysis        *vapiAnalysis `json:"analysis,omitempty"`
}

type vapiWebhookCall struct {
	ID          string        `json:"id"`
	AssistantID string        `json:"assistantId"`
	Status      string        `json:"status,omitempty"`
	EndedReason string        `json:"endedReason,omitempty"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
	Cost        float64       `json:"cost,omitempty"`
	Artifact    *vapiArtifact `json:"artifact,omitempty"`
}

type vapiArtifact struct {
	Transcript   string                `json:"transcript,omitempty"`
	RecordingURL string                `json:"recordingUrl,omitempty"`
	Messages     []vapiArtifactMessage `json:"messages,omitempty"`
}

type vapiArtifactMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type vapiAnalysis struct {
	Summary   string `json:"summary,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
}

// NormalizeVapiEvent maps a Vapi webhook body onto NormalizedCallEvent.
// Unknown event types are acknowledged and dropped (ok=false).
func NormalizeVapiEvent(body []byte) (NormalizedCallEvent, bool, error) {
	var env vapiWebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return NormalizedCallEvent{}, false, fmt.Errorf("vapi webhook: %w", err)
	}

	msg := env.Message
	switch msg.Type {
	case EventStatusUpdate, EventEndOfCallReport:
	default:
		return NormalizedCallEvent{}, false, nil
	}
	if msg.Call.ID == "" {
		return NormalizedCallEvent{}, false, fmt.Errorf("vapi webhook: missing call id")
	}

	ev := NormalizedCallEvent{
		Provider:    "vapi",
		EventType:   msg.Type,
		ExternalID:  msg.Call.ID,
		AssistantID: msg.Call.AssistantID,
		Status:      firstNonEmpty(msg.Status, msg.Call.Status),
		EndedReason: firstNonEmpty(msg.EndedReason, msg.Call.EndedReason),
		StartedAt:   firstTime(msg.StartedAt, msg.Call.StartedAt),
		EndedAt:     firstTime(msg.EndedAt, msg.Call.EndedAt),
		Raw:         json.RawMessage(body),
	}

	ev.DurationSeconds = deriveDurationSeconds(msg.DurationSeconds, ev.StartedAt, ev.EndedAt)

	artifact := msg.Artifact
	if artifact == nil {
		artifact = msg.Call.Artifact
	}
	if artifact != nil {
		ev.Transcript = buildTranscript(artifact)
		ev.RecordingURL = artifact.RecordingURL
	}
	if msg.Analysis != nil {
		ev.Summary = msg.Analysis.Summary
		ev.Sentiment = msg.Analysis.Sentiment
	}

	ev.Cost = msg.Cost
	if ev.Cost == 0 {
		ev.Cost = msg.Call.Cost
	}

	return ev, true, nil
}

// deriveDurationSeconds prefers an explicit duration, then timestamps,
// clamped to >= 0 against clock skew.
func deriveDurationSeconds(explicit float64, startedAt, endedAt *time.Time) int {
	if explicit > 0 {
		return int(explicit)
	}
	if startedAt != nil && endedAt != nil {
		d := int(endedAt.Sub(*startedAt).Seconds())
		if d > 0 {
			return d
		}
	}
	return 0
}

// buildTranscript prefers the structured role-tagged message list over the
// raw transcript string.
func buildTranscript(a *vapiArtifact) string {
	if len(a.Messages) == 0 {
		return a.Transcript
	}

	var lines []string
	for _, m := range a.Messages {
		switch strings.ToLower(m.Role) {
		case "assistant", "bot":
			lines = append(lines, "Agent: "+m.Message)
		case "user", "customer", "human":
			lines = append(lines, "User: "+m.Message)
		}
	}
	if len(lines) == 0 {
		return a.Transcript
	}
	return strings.Join(lines, "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTime(vals ...*time.Time) *time.Time {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
