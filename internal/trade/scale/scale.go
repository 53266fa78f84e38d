// Package scale implements the Scale Workers: background chunked
// scaleout/scalein tasks that execute a position change over N chunks
// across duration D, emitting a progress event per chunk and finishing
// atomically through the ledger's close path. Grounded on the teacher's
// MonitorPosition/GhostSession ticker-driven partial-fill loop,
// generalized from polling a live order's fill state to advancing a
// simulated chunk counter on a fixed interval.
package scale

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/trade/ledger"
)

// PriceSource answers the current price used as each chunk's fill price.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// Speed names one of the three user-selectable scaleout/scalein presets.
type Speed struct {
	Name     string
	Chunks   int
	Duration time.Duration
}

// Progress is published on scale.progress.<position_id> per chunk.
type Progress struct {
	ChunkIndex    int
	Total         int
	ExecutedQty   float64
	Price         float64
	RealizedDelta float64
	RealizedCum   float64
}

type worker struct {
	cancel context.CancelFunc
}

// Manager owns every active scaleout/scalein worker, keyed by position ID
// so a cancel command can find and halt it after the current chunk.
type Manager struct {
	ledger *ledger.Ledger
	prices PriceSource
	bus    *eventbus.Bus
	speeds map[string]Speed

	mu      sync.Mutex
	workers map[string]*worker // key: position ID
}

// New constructs a scale worker Manager. speeds names the fast/medium/slow
// presets; the same table the system's configuration surface exposes, so
// there is one source of truth for chunk counts and durations.
func New(led *ledger.Ledger, prices PriceSource, bus *eventbus.Bus, speeds map[string]Speed) *Manager {
	return &Manager{ledger: led, prices: prices, bus: bus, speeds: speeds, workers: make(map[string]*worker)}
}

func (m *Manager) speed(name string) Speed {
	if sp, ok := m.speeds[name]; ok {
		return sp
	}
	return m.speeds["medium"]
}

// StartScaleout decomposes the open position's close into N chunks over
// duration D per the chosen speed and runs them on a background task.
func (m *Manager) StartScaleout(userID, symbol, sessionID, speedName string) error {
	pos, ok := m.ledger.Open(userID, symbol)
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	speed := m.speed(speedName)
	m.run(pos.ID, speed, func(ctx context.Context, chunkIdx, total int) (done bool, err error) {
		price, ok := m.prices.LastPrice(symbol)
		if !ok {
			return false, fmt.Errorf("no market data for %s", symbol)
		}

		remaining, hasOpen := m.ledger.Open(userID, symbol)
		if !hasOpen {
			return true, nil // already closed by a prior chunk or manual close
		}

		chunkQty := chunkQuantity(pos.Quantity, speed.Chunks, chunkIdx)
		if chunkIdx == total-1 {
			chunkQty = remaining.Quantity // last chunk absorbs remainder
		}

		delta, closed, err := m.ledger.PartialExit(userID, symbol, sessionID, chunkQty, price, time.Now())
		if err != nil {
			return false, err
		}

		after, _ := m.ledger.Open(userID, symbol)
		m.bus.Publish(eventbus.ScaleProgressTopic(pos.ID), Progress{
			ChunkIndex:    chunkIdx,
			Total:         total,
			ExecutedQty:   chunkQty,
			Price:         price,
			RealizedDelta: delta,
			RealizedCum:   after.RealizedPnLCum,
		})

		return closed, nil
	})
	return nil
}

// StartScalein mirrors StartScaleout for entries: chunked same-side adds
// that re-average the entry price on each chunk.
func (m *Manager) StartScalein(userID, symbol, sessionID, speedName string, totalQty float64) error {
	speed := m.speed(speedName)
	positionID := fmt.Sprintf("%s|%s|scalein", userID, symbol)

	m.run(positionID, speed, func(ctx context.Context, chunkIdx, total int) (done bool, err error) {
		price, ok := m.prices.LastPrice(symbol)
		if !ok {
			return false, fmt.Errorf("no market data for %s", symbol)
		}

		chunkQty := chunkQuantity(totalQty, speed.Chunks, chunkIdx)
		if err := m.ledger.PartialEntry(userID, symbol, sessionID, chunkQty, price, time.Now()); err != nil {
			return false, err
		}

		pos, _ := m.ledger.Open(userID, symbol)
		m.bus.Publish(eventbus.ScaleProgressTopic(positionID), Progress{
			ChunkIndex:  chunkIdx,
			Total:       total,
			ExecutedQty: chunkQty,
			Price:       price,
			RealizedCum: pos.RealizedPnLCum,
		})

		return chunkIdx == total-1, nil
	})
	return nil
}

// chunkQuantity is floor(qty/N), or qty/N unrounded when the floor is 0;
// the last chunk absorbs the remainder at the call site.
func chunkQuantity(totalQty float64, n, chunkIdx int) float64 {
	q := float64(int(totalQty / float64(n)))
	if q <= 0 {
		q = totalQty / float64(n)
	}
	return q
}

// run drives one worker's chunk loop on a ticker derived from the speed's
// total duration, honoring cancellation at the next chunk boundary.
func (m *Manager) run(positionID string, speed Speed, step func(ctx context.Context, chunkIdx, total int) (bool, error)) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.workers[positionID] = &worker{cancel: cancel}
	m.mu.Unlock()

	interval := speed.Duration / time.Duration(speed.Chunks)

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.workers, positionID)
			m.mu.Unlock()
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for i := 0; i < speed.Chunks; i++ {
			select {
			case <-ctx.Done():
				return // cancelled: remaining quantity stays open
			case <-ticker.C:
			}

			done, err := step(ctx, i, speed.Chunks)
			if err != nil {
				return
			}
			if done {
				return
			}
		}
	}()
}

// Cancel halts the worker for positionID after its current chunk,
// leaving the remaining quantity open.
func (m *Manager) Cancel(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[positionID]; ok {
		w.cancel()
	}
}
