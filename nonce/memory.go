package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/vitwit/a402/types"
)

// MemoryLedger keeps consumed nonces in process memory. It does not survive
// restarts and is meant for tests, development and offline CLI use.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]types.NonceRecord
	closed  bool
	opts    options

	stop chan struct{}
	done chan struct{}
}

func NewMemoryLedger(opts ...Option) *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]types.NonceRecord),
		opts:    buildOptions(opts),
	}
}

func (m *MemoryLedger) Peek(_ context.Context, nonce string) (*types.NonceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	rec, ok := m.records[nonce]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryLedger) TryConsume(_ context.Context, nonce string, expiry *time.Time) (types.ConsumeOutcome, error) {
	now := m.opts.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	if expired(expiry, now) {
		return types.ConsumeExpired, nil
	}

	if _, ok := m.records[nonce]; ok {
		return types.ConsumeAlreadyConsumed, nil
	}

	rec := types.NonceRecord{Nonce: nonce, ConsumedAt: now}
	if expiry != nil {
		e := *expiry
		rec.Expiry = &e
	}
	m.records[nonce] = rec

	return types.ConsumeAccepted, nil
}

// Prune removes records whose expiry plus grace lies before now.
func (m *MemoryLedger) Prune(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	var n int64
	for k, rec := range m.records {
		if collectible(rec.Expiry, now, m.opts.grace) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Start runs Prune every interval until Stop or Close.
func (m *MemoryLedger) Start(interval time.Duration) {
	m.mu.Lock()
	if m.stop != nil || m.closed {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := m.Prune(context.Background(), m.opts.now())
				if err != nil {
					return
				}
				if n > 0 {
					m.opts.logger.Debug("pruned nonces", map[string]any{"count": n})
				}
			}
		}
	}()
}

// Stop halts the background janitor started by Start.
func (m *MemoryLedger) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (m *MemoryLedger) Close() error {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
