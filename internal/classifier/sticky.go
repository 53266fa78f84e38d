// Package classifier holds the pieces shared by the Murphy and Momo
// engines: the bar ring buffer and the sticky-publication filter. Each
// classifier embeds a StickyFilter cell holding its own last-published
// signal, cleared on symbol unsubscribe, per the "sticky state on
// classifier" design note.
package classifier

import "tradecopilot/internal/types"

// StickyFilter decides whether a newly generated signal should be
// published, given the last one that was. Not safe for concurrent use
// across goroutines; each (symbol, classifier) worker owns one instance.
type StickyFilter struct {
	last    *types.Signal
	hasLast bool
}

// Decide reports whether candidate should be published and, if not, why.
func (f *StickyFilter) Decide(candidate types.Signal) (publish bool, reason string) {
	if !f.hasLast {
		return true, ""
	}
	prev := *f.last

	if candidate.Direction == prev.Direction {
		if candidate.Grade > prev.Grade || candidate.Stars > prev.Stars {
			return true, ""
		}
		return false, "same direction not stronger"
	}

	// Opposite direction: publish only on a sufficiently strong flip.
	if candidate.Grade >= 7 || candidate.Stars >= 3 {
		return true, ""
	}
	return false, "opposite direction not strong enough to flip"
}

// Record updates the sticky cell after a signal has been generated,
// regardless of whether it was published — only published signals become
// the new "last published" baseline, matching the monotonicity property
// (two consecutive PUBLISHED signals in the same direction must strictly
// improve).
func (f *StickyFilter) Record(s types.Signal) {
	if !s.Displayed {
		return
	}
	cp := s
	f.last = &cp
	f.hasLast = true
}

// Clear wipes the sticky cell, called when a symbol subscription is torn
// down.
func (f *StickyFilter) Clear() {
	f.last = nil
	f.hasLast = false
}
