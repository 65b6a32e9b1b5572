// Package classifier turns free-form user text into a structured intent.
// Two interchangeable strategies exist: a remote model strategy and a
// deterministic keyword strategy. The caller picks one at startup and never
// switches; neither strategy lets a failure escape its boundary.
package classifier

import (
	"context"

	"github.com/taskchat/taskchat/internal/models"
)

type Classifier interface {
	// Classify maps text to an intent. It never returns an error: internal
	// failures surface as an IntentResult with models.ActionError and a
	// human-readable ResponseText. No retries are attempted; the result is
	// final for the turn.
	Classify(ctx context.Context, text, ownerID string) models.IntentResult

	// FreeFormReply produces a plain conversational answer, used when no
	// task action applies. history is the recent transcript in ascending
	// order and may be nil.
	FreeFormReply(ctx context.Context, text string, history []models.Message) string
}
