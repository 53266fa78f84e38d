package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecopilot/internal/types"
)

type fakeStore struct {
	saved []types.Position
}

func (f *fakeStore) SavePosition(p types.Position) error {
	f.saved = append(f.saved, p)
	return nil
}

func TestEntryOpensNewPosition(t *testing.T) {
	l := New(&fakeStore{})
	p, realized, err := l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 100, time.Now())
	require.NoError(t, err)
	assert.Zero(t, realized, "opening a position should not realize P&L")
	assert.Equal(t, 10.0, p.Quantity)
	assert.Equal(t, 100.0, p.EntryPrice)

	_, ok := l.Open("u1", "AAPL")
	assert.True(t, ok, "expected an open position")
}

func TestEntryAveragesSameSide(t *testing.T) {
	l := New(&fakeStore{})
	l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 100, time.Now())
	p, realized, err := l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 120, time.Now())
	require.NoError(t, err)
	assert.Zero(t, realized, "averaging should not realize P&L")

	wantEntry := (10.0*100 + 10.0*120) / 20.0
	assert.Equal(t, 20.0, p.Quantity)
	assert.Equal(t, wantEntry, p.EntryPrice)
}

func TestEntryOppositeSideReverses(t *testing.T) {
	l := New(&fakeStore{})
	l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 100, time.Now())

	p, realized, err := l.Entry("u1", "AAPL", "s1", types.SideShort, 5, 110, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100.0, realized) // (110-100)*10*1
	assert.Equal(t, types.SideShort, p.Side)
	assert.Equal(t, 5.0, p.Quantity)
	assert.Equal(t, 110.0, p.EntryPrice)

	// session realized (100) + unrealized on the new short position (0, entry==price)
	assert.Equal(t, 100.0, l.MasterPnL("u1", "AAPL", "s1", 110))
}

func TestCloseRealizesAndRemovesOpenPosition(t *testing.T) {
	l := New(&fakeStore{})
	l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 100, time.Now())

	closed, realized, err := l.Close("u1", "AAPL", "s1", 150, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 500.0, realized) // (150-100)*10
	assert.Equal(t, types.PositionClosed, closed.Status)

	_, ok := l.Open("u1", "AAPL")
	assert.False(t, ok, "expected no open position after close")
}

func TestCloseWithNoOpenPositionErrors(t *testing.T) {
	l := New(&fakeStore{})
	_, _, err := l.Close("u1", "AAPL", "s1", 100, time.Now())
	assert.Error(t, err)
}

func TestPartialExitFullyClosesOnLastChunk(t *testing.T) {
	l := New(&fakeStore{})
	l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 100, time.Now())

	delta, closed, err := l.PartialExit("u1", "AAPL", "s1", 10, 120, time.Now())
	require.NoError(t, err)
	assert.True(t, closed, "expected full chunk to close the position")
	assert.Equal(t, 200.0, delta)

	_, ok := l.Open("u1", "AAPL")
	assert.False(t, ok)
}

func TestPartialExitPartiallyReducesQuantity(t *testing.T) {
	l := New(&fakeStore{})
	l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 100, time.Now())

	delta, closed, err := l.PartialExit("u1", "AAPL", "s1", 4, 110, time.Now())
	require.NoError(t, err)
	assert.False(t, closed, "partial chunk should not close the position")
	assert.Equal(t, 40.0, delta)

	p, _ := l.Open("u1", "AAPL")
	assert.Equal(t, 6.0, p.Quantity)
}

func TestSmartReverseBlockedPastTenPercentLoss(t *testing.T) {
	l := New(&fakeStore{})
	l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 100, time.Now())

	assert.False(t, l.SmartReverseBlocked("u1", "AAPL", 95), "5%% loss should not block smart reverse")
	assert.True(t, l.SmartReverseBlocked("u1", "AAPL", 89), "11%% loss should block smart reverse")
}

func TestResetSessionZeroesRunningPnLButKeepsHistory(t *testing.T) {
	l := New(&fakeStore{})
	l.Entry("u1", "AAPL", "s1", types.SideLong, 10, 100, time.Now())
	l.Close("u1", "AAPL", "s1", 150, time.Now())

	require.Equal(t, 500.0, l.MasterPnL("u1", "AAPL", "s1", 150))

	l.ResetSession("u1", "s1", "s2")

	assert.Zero(t, l.MasterPnL("u1", "AAPL", "s2", 150))
}
