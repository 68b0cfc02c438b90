package a402

import (
	"time"

	"github.com/vitwit/a402/challenge"
	"github.com/vitwit/a402/clients"
	"github.com/vitwit/a402/logger"
	"github.com/vitwit/a402/metrics"
	"github.com/vitwit/a402/nonce"
)

type Option func(*A402)

func WithLogger(l logger.Logger) Option {
	return func(x *A402) {
		x.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *A402) {
		x.metrics = metrics.OrNoop(r)
	}
}

// WithTimeout bounds each ledger lookup.
func WithTimeout(t time.Duration) Option {
	return func(x *A402) {
		x.timeout = t
	}
}

// WithNonceTimeout bounds each nonce ledger call.
func WithNonceTimeout(t time.Duration) Option {
	return func(x *A402) {
		x.nonceTimeout = t
	}
}

// WithRetry sets how often a pending or failed ledger lookup is repeated.
func WithRetry(count int, delay time.Duration) Option {
	return func(x *A402) {
		x.retryCount = count
		x.retryDelay = delay
	}
}

func WithNonceLedger(l nonce.Ledger) Option {
	return func(x *A402) {
		x.nonces = l
	}
}

func WithChallengeStore(s challenge.Store) Option {
	return func(x *A402) {
		x.challenges = s
	}
}

func WithChallengeTTL(ttl time.Duration) Option {
	return func(x *A402) {
		x.challengeTTL = ttl
	}
}

func WithBatchLimit(n int) Option {
	return func(x *A402) {
		x.batchLimit = n
	}
}

// WithLedgerClient registers a prebuilt ledger client, one per network.
func WithLedgerClient(c clients.LedgerClient) Option {
	return func(x *A402) {
		x.ledgers = append(x.ledgers, c)
	}
}
