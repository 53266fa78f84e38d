// Package replay is the Replay Server: it streams stored bars for a symbol
// at a selectable rate to subscribers, simulating live arrival. It is
// grounded on the teacher's PriceThrottler, which broadcasts buffered
// state on a fixed ticker; here the ticker interval is derived from the
// selected playback speed instead of being fixed at 200ms.
package replay

import (
	"context"
	"sync"
	"time"

	"tradecopilot/internal/types"
)

// BarReader paginates historical bars for a symbol from durable storage.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, offset, limit int) ([]types.Bar, int, error)
}

// Progress is emitted to subscribers as playback advances.
type Progress struct {
	BarIndex   int
	Total      int
	CurrentBar types.Bar
}

// Session is one symbol's shared playback cursor; multiple subscribers
// observe the same cursor and receive the same progress stream.
type Session struct {
	reader BarReader
	symbol string

	mu       sync.Mutex
	speed    float64
	playing  bool
	cursor   int
	total    int
	buffered []types.Bar

	subscribers []chan Progress
}

// NewSession constructs a paused session for symbol at the default speed.
func NewSession(reader BarReader, symbol string, defaultSpeed float64) *Session {
	if defaultSpeed <= 0 {
		defaultSpeed = 1.0
	}
	return &Session{reader: reader, symbol: symbol, speed: defaultSpeed}
}

// Subscribe returns a channel of progress events shared across all
// subscribers of this session's cursor.
func (s *Session) Subscribe() <-chan Progress {
	ch := make(chan Progress, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Play starts (or resumes) playback.
func (s *Session) Play() {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
}

// Pause halts playback without losing the cursor position.
func (s *Session) Pause() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

// Reset rewinds the cursor to the beginning.
func (s *Session) Reset() {
	s.mu.Lock()
	s.cursor = 0
	s.buffered = nil
	s.mu.Unlock()
}

// SetSpeed changes the inter-bar sleep for subsequent bars only; a change
// mid-stream never affects the sleep already in progress.
func (s *Session) SetSpeed(multiplier float64) {
	if multiplier <= 0 {
		return
	}
	s.mu.Lock()
	s.speed = multiplier
	s.mu.Unlock()
}

const pageSize = 500

// Run drives the playback loop: one bar emitted per (60s / speed) until
// ctx is cancelled or the corpus is exhausted.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.mu.Lock()
		playing := s.playing
		cursor := s.cursor
		bufLen := len(s.buffered)
		s.mu.Unlock()

		if !playing {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
				continue
			}
		}

		if cursor >= bufLen {
			if err := s.fill(ctx, cursor); err != nil {
				return err
			}
			s.mu.Lock()
			bufLen = len(s.buffered)
			s.mu.Unlock()
			if cursor >= bufLen {
				return nil // corpus exhausted
			}
		}

		s.mu.Lock()
		bar := s.buffered[cursor]
		s.cursor++
		speed := s.speed
		total := s.total
		subs := append([]chan Progress(nil), s.subscribers...)
		s.mu.Unlock()

		progress := Progress{BarIndex: cursor, Total: total, CurrentBar: bar}
		for _, sub := range subs {
			select {
			case sub <- progress:
			default:
			}
		}

		sleep := time.Duration(float64(60*time.Second) / speed)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (s *Session) fill(ctx context.Context, offset int) error {
	page, total, err := s.reader.ReadBars(ctx, s.symbol, offset, pageSize)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.buffered = append(s.buffered, page...)
	s.total = total
	s.mu.Unlock()
	return nil
}

// Manager shares one Session per symbol across concurrently subscribing
// clients.
type Manager struct {
	reader       BarReader
	defaultSpeed float64

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a replay Manager.
func NewManager(reader BarReader, defaultSpeed float64) *Manager {
	return &Manager{reader: reader, defaultSpeed: defaultSpeed, sessions: make(map[string]*Session)}
}

// Subscribe returns the shared Session for symbol, starting its Run loop
// the first time a symbol is requested.
func (m *Manager) Subscribe(ctx context.Context, symbol string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[symbol]; ok {
		return sess
	}
	sess := NewSession(m.reader, symbol, m.defaultSpeed)
	m.sessions[symbol] = sess
	go sess.Run(ctx)
	return sess
}
