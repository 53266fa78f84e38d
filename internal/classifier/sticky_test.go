package classifier

import (
	"testing"

	"tradecopilot/internal/types"
)

// TestFirstSignalAlwaysPublishes covers the base case: with no prior
// published signal, the sticky filter never suppresses.
func TestFirstSignalAlwaysPublishes(t *testing.T) {
	var f StickyFilter
	publish, reason := f.Decide(types.Signal{Direction: types.DirUp, Grade: 3, Stars: 1})
	if !publish {
		t.Fatalf("expected first signal to publish, reason: %q", reason)
	}
}

// TestSameDirectionRequiresImprovement covers S4: two consecutive published
// signals in the same direction must strictly improve (grade or stars).
func TestSameDirectionRequiresImprovement(t *testing.T) {
	var f StickyFilter
	first := types.Signal{Direction: types.DirUp, Grade: 5, Stars: 2, Displayed: true}
	f.Record(first)

	publish, _ := f.Decide(types.Signal{Direction: types.DirUp, Grade: 5, Stars: 2})
	if publish {
		t.Fatal("expected a non-improving same-direction signal to be suppressed")
	}

	publish, reason := f.Decide(types.Signal{Direction: types.DirUp, Grade: 6, Stars: 2})
	if !publish {
		t.Fatalf("expected a higher-grade same-direction signal to publish, reason: %q", reason)
	}
}

func TestOppositeDirectionNeedsStrongFlip(t *testing.T) {
	var f StickyFilter
	f.Record(types.Signal{Direction: types.DirUp, Grade: 5, Stars: 2, Displayed: true})

	publish, reason := f.Decide(types.Signal{Direction: types.DirDown, Grade: 4, Stars: 2})
	if publish {
		t.Fatal("expected a weak opposite-direction flip to be suppressed")
	}
	_ = reason

	publish, reason = f.Decide(types.Signal{Direction: types.DirDown, Grade: 7, Stars: 2})
	if !publish {
		t.Fatalf("expected a grade-7 opposite flip to publish, reason: %q", reason)
	}
}

// TestUnpublishedSignalsDoNotUpdateStickyCell ensures a suppressed signal
// never becomes the new baseline — only Displayed signals do.
func TestUnpublishedSignalsDoNotUpdateStickyCell(t *testing.T) {
	var f StickyFilter
	f.Record(types.Signal{Direction: types.DirUp, Grade: 5, Stars: 2, Displayed: true})

	// Not displayed: Record must be a no-op regardless of content.
	f.Record(types.Signal{Direction: types.DirUp, Grade: 9, Stars: 4, Displayed: false})

	publish, _ := f.Decide(types.Signal{Direction: types.DirUp, Grade: 6, Stars: 2})
	if !publish {
		t.Fatal("baseline should still be the original grade-5 signal, so grade 6 should publish")
	}
}

func TestClearResetsStickyState(t *testing.T) {
	var f StickyFilter
	f.Record(types.Signal{Direction: types.DirUp, Grade: 9, Stars: 4, Displayed: true})
	f.Clear()

	publish, reason := f.Decide(types.Signal{Direction: types.DirUp, Grade: 1, Stars: 1})
	if !publish {
		t.Fatalf("expected a cleared filter to publish like a first signal, reason: %q", reason)
	}
}
