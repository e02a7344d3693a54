package calls

import (
	"encoding/json"
	"strings"

	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

// RetryReasons are the provider ended-reasons worth another attempt today.
// Matching is case-insensitive substring.
var RetryReasons = []string{
	"busy",
	"no-answer",
	"voicemail",
	"assistant-error",
	"pipeline-error-openai-voice-failed",
}

// Outcome is the derived classification of a finished call. Successful and
// NeedsRetry are never both set.
type Outcome struct {
	Successful bool
	NeedsRetry bool
}

// Classify derives the outcome from the assistant's evaluation and the
// provider's ended reason. A truthy successEvaluation wins outright; otherwise
// a retryable ended reason marks the attempt for another try. The function is
// pure, so re-delivered webhooks converge on the same result.
func Classify(endedReason string, successEvaluation json.RawMessage) Outcome {
	if vapi.TruthyEvaluation(successEvaluation) {
		return Outcome{Successful: true}
	}
	lowered := strings.ToLower(endedReason)
	for _, reason := range RetryReasons {
		if strings.Contains(lowered, reason) {
			return Outcome{NeedsRetry: true}
		}
	}
	return Outcome{}
}
