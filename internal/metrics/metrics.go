package metrics

import "sync/atomic"

// Counters tracks payment-core throughput. All fields are updated
// atomically and safe for concurrent use.
type Counters struct {
	PaymentsCreated    uint64
	PaymentsCompleted  uint64
	PaymentsFailed     uint64
	PaymentsCancelled  uint64
	IdempotencyReplays uint64
	WalletRetries      uint64
}

func (c *Counters) IncCreated() {
	atomic.AddUint64(&c.PaymentsCreated, 1)
}

func (c *Counters) IncCompleted() {
	atomic.AddUint64(&c.PaymentsCompleted, 1)
}

func (c *Counters) IncFailed() {
	atomic.AddUint64(&c.PaymentsFailed, 1)
}

func (c *Counters) IncCancelled() {
	atomic.AddUint64(&c.PaymentsCancelled, 1)
}

func (c *Counters) IncIdempotencyReplay() {
	atomic.AddUint64(&c.IdempotencyReplays, 1)
}

func (c *Counters) IncWalletRetry() {
	atomic.AddUint64(&c.WalletRetries, 1)
}
