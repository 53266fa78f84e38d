package classifier

import "tradecopilot/internal/types"

// BarBuffer is a bounded sliding window of recent bars for one symbol,
// shared shape for both classifiers' "last up-to-N bars" inputs.
type BarBuffer struct {
	capacity int
	bars     []types.Bar
}

// NewBarBuffer constructs a buffer holding at most capacity bars.
func NewBarBuffer(capacity int) *BarBuffer {
	return &BarBuffer{capacity: capacity}
}

// Push appends a sealed bar, evicting the oldest once at capacity.
func (b *BarBuffer) Push(bar types.Bar) {
	b.bars = append(b.bars, bar)
	if len(b.bars) > b.capacity {
		b.bars = b.bars[len(b.bars)-b.capacity:]
	}
}

// Len returns how many bars are currently buffered.
func (b *BarBuffer) Len() int { return len(b.bars) }

// Bars returns the buffered bars, oldest first.
func (b *BarBuffer) Bars() []types.Bar { return b.bars }

// Last returns the most recent bar.
func (b *BarBuffer) Last() types.Bar { return b.bars[len(b.bars)-1] }
