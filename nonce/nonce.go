// Package nonce records consumed challenge nonces so a receipt can never be
// accepted twice.
package nonce

import (
	"context"
	"time"

	"github.com/vitwit/a402/logger"
	"github.com/vitwit/a402/storage"
	"github.com/vitwit/a402/types"
)

// DefaultGrace is how long a record is kept past its challenge expiry.
const DefaultGrace = 24 * time.Hour

// ErrClosed is returned by a ledger after Close.
var ErrClosed = storage.ErrClosed

// Ledger tracks consumed nonces. TryConsume is atomic: for a given nonce
// exactly one caller ever observes ConsumeAccepted. A non-nil error means
// the store itself failed and no outcome is known.
type Ledger interface {
	// Peek returns the record for nonce, or nil when it was never consumed.
	Peek(ctx context.Context, nonce string) (*types.NonceRecord, error)

	// TryConsume marks nonce as spent. An expiry at or before now yields
	// ConsumeExpired without consuming.
	TryConsume(ctx context.Context, nonce string, expiry *time.Time) (types.ConsumeOutcome, error)
}

// Pruner is implemented by ledgers that garbage-collect old records.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

type options struct {
	grace  time.Duration
	now    func() time.Time
	logger logger.Logger
	prefix string
}

// Option configures a ledger.
type Option func(*options)

// WithGrace sets how long records survive past their expiry.
func WithGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.grace = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = logger.OrNoop(l)
	}
}

// WithKeyPrefix namespaces Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func buildOptions(opts []Option) options {
	o := options{
		grace:  DefaultGrace,
		now:    time.Now,
		logger: logger.NoopLogger{},
		prefix: "a402:nonce:",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// expired reports whether a challenge deadline has passed.
func expired(expiry *time.Time, now time.Time) bool {
	return expiry != nil && !now.Before(*expiry)
}

// collectible reports whether a record may be garbage-collected. Records
// without an expiry are kept forever.
func collectible(expiry *time.Time, now time.Time, grace time.Duration) bool {
	return expiry != nil && now.After(expiry.Add(grace))
}
