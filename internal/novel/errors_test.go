package novel

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

// TestClassifyError checks the closed mapping from sentinel errors to
// outcomes, including wrapped forms.
func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeDelivered},
		{"no content", ErrNoContent, OutcomeNoContent},
		{"wrapped no content", errors.Wrap(ErrNoContent, "resolve https://example.com/a"), OutcomeNoContent},
		{"no artifact", ErrNoArtifact, OutcomeGenerationFailed},
		{"halted", errors.Wrap(ErrHalted, "after item 17"), OutcomeHalted},
		{"incomplete is transient", ErrIncomplete, OutcomeTransient},
		{"unknown", errors.New("connection reset"), OutcomeTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestNovelFailed(t *testing.T) {
	t.Parallel()

	n := &Novel{Chapters: []*Chapter{
		{ID: 1, Success: true},
		{ID: 2, Success: false},
		{ID: 3, Success: true},
	}}
	failed := n.Failed()
	assert.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].ID)
}
