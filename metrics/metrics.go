// Package metrics records verification counters and latencies.
package metrics

import "time"

// Recorder is the sink for verification metrics. Labels are free-form.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counter names
const (
	VerifyValid   = "verify_valid"
	VerifyInvalid = "verify_invalid"
	CheckFailed   = "check_failed"
	NonceReplay   = "nonce_replay"
	LedgerRetry   = "ledger_retry"
)

// Latency names
const (
	VerifyLatency        = "verify"
	LedgerConfirmLatency = "ledger_confirm"
)

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
