package novel

import "github.com/cockroachdb/errors"

// The pipeline reports terminal failures as marked sentinel errors so the
// batch manager can classify with errors.Is over a closed set instead of
// matching message text.
var (
	// ErrNoContent means the source resolved but yielded zero content items.
	ErrNoContent = errors.New("no content items discovered")
	// ErrNoArtifact means content was fetched but packaging produced nothing.
	ErrNoArtifact = errors.New("packaging produced no artifact")
	// ErrIncomplete means at least one item failed its fetch; packaging is
	// skipped and the identifier stays eligible for a future batch.
	ErrIncomplete = errors.New("fetch incomplete")
	// ErrHalted means the operator paused the job mid-fetch. Not a verdict
	// on the content; the ledger is left untouched.
	ErrHalted = errors.New("job halted")
)

// Outcome is the terminal classification of one job.
type Outcome string

// Terminal outcomes recorded by the batch manager.
const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeNoContent        Outcome = "no_content"
	OutcomeGenerationFailed Outcome = "generation_failed"
	OutcomeTransient        Outcome = "transient"
	OutcomeHalted           Outcome = "halted"
)

// ClassifyError maps a job error onto an Outcome. A nil error classifies as
// delivered; anything outside the closed sentinel set is transient.
func ClassifyError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDelivered
	case errors.Is(err, ErrNoContent):
		return OutcomeNoContent
	case errors.Is(err, ErrNoArtifact):
		return OutcomeGenerationFailed
	case errors.Is(err, ErrHalted):
		return OutcomeHalted
	default:
		return OutcomeTransient
	}
}
