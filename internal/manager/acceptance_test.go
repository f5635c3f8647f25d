package manager

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

func labelRecord(spam, mismatch float64) *tree.TextLabelsRecord {
	return &tree.TextLabelsRecord{Labels: map[tree.Label]float64{
		tree.LabelSpam:         spam,
		tree.LabelLangMismatch: mismatch,
	}}
}

func TestAcceptance(t *testing.T) {
	require.Equal(t, 0.0, Acceptance(nil))

	// Unanimous clean reviews score 1.
	require.InDelta(t, 1.0, Acceptance([]*tree.TextLabelsRecord{
		labelRecord(0, 0), labelRecord(0, 0),
	}), 1e-9)

	// One spam vote out of two halves the spam mean.
	require.InDelta(t, 0.5, Acceptance([]*tree.TextLabelsRecord{
		labelRecord(0, 0), labelRecord(1, 0),
	}), 1e-9)

	// Spam and mismatch both count; all-bad reviews go negative.
	require.InDelta(t, -1.0, Acceptance([]*tree.TextLabelsRecord{
		labelRecord(1, 1),
	}), 1e-9)

	// Missing labels count as zero.
	require.InDelta(t, 1.0, Acceptance([]*tree.TextLabelsRecord{
		{Labels: map[tree.Label]float64{tree.LabelQuality: 0.2}},
	}), 1e-9)
}

func TestAcceptanceProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		records := make([]*tree.TextLabelsRecord, n)
		var spamSum, mismatchSum float64
		for i := range records {
			spam := rapid.Float64Range(0, 1).Draw(t, "spam")
			mismatch := rapid.Float64Range(0, 1).Draw(t, "mismatch")
			records[i] = labelRecord(spam, mismatch)
			spamSum += spam
			mismatchSum += mismatch
		}

		got := Acceptance(records)
		want := 1 - spamSum/float64(n) - mismatchSum/float64(n)
		require.InDelta(t, want, got, 1e-9)
		require.GreaterOrEqual(t, got, -1.0-1e-9)
		require.LessOrEqual(t, got, 1.0+1e-9)

		// A maximally bad extra review never raises the score.
		worse := Acceptance(append(records, labelRecord(1, 1)))
		require.LessOrEqual(t, worse, got+1e-9)
	})
}
