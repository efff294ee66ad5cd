package reconcile

import "strings"

// answeredFallbackSeconds is the duration above which a call with no usable
// ended reason is assumed to have been picked up.
const answeredFallbackSeconds = 10

// ClassifyOutcome maps a provider's ended reason onto the outcome taxonomy.
// When the reason is missing or unrecognized, the transcript and duration
// decide: talking happened, or it did not.
func ClassifyOutcome(endedReason, transcript string, durationSeconds int) CallOutcome {
	reason := strings.ToLower(strings.TrimSpace(endedReason))

	switch {
	case reason == "":
		// fall through to the heuristic below
	case strings.Contains(reason, "voicemail"):
		return OutcomeVoicemail
	case strings.Contains(reason, "busy"):
		return OutcomeBusy
	case strings.Contains(reason, "no-answer") || strings.Contains(reason, "did-not-answer"):
		return OutcomeNoAnswer
	case strings.Contains(reason, "declined") || strings.Contains(reason, "rejected"):
		return OutcomeDeclined
	case strings.Contains(reason, "error") || strings.Contains(reason, "failed"):
		return OutcomeError
	case strings.Contains(reason, "customer-ended-call"),
		strings.Contains(reason, "assistant-ended-call"),
		strings.Contains(reason, "hangup"),
		strings.Contains(reason, "max-duration"),
		strings.Contains(reason, "silence-timed-out"):
		return OutcomeAnswered
	}

	if strings.TrimSpace(transcript) != "" || durationSeconds > answeredFallbackSeconds {
		return OutcomeAnswered
	}
	return OutcomeNoAnswer
}

// IsConnected reports whether the outcome represents a call a human or their
// voicemail actually received. Used for reporting, not billing: billing keys
// off duration alone.
func IsConnected(o CallOutcome) bool {
	switch o {
	case OutcomeAnswered, OutcomeVoicemail:
		return true
	}
	return false
}
