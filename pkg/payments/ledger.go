package payments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatkit/pkg/models"
)

// MemoryLedger is an in-process Ledger used for development and tests.
// Submitted payments settle as confirmed after a fixed delay; the delay
// models network latency so subscription plumbing is exercised. Settled
// outcomes are retained and replayed to late subscribers, since a
// confirmation can arrive before the submitter gets around to
// subscribing.
type MemoryLedger struct {
	delay time.Duration

	mu      sync.Mutex
	subs    map[string][]func(Confirmation)
	settled map[string]Confirmation
}

// NewMemoryLedger builds a ledger that confirms after the given delay.
func NewMemoryLedger(delay time.Duration) *MemoryLedger {
	return &MemoryLedger{
		delay:   delay,
		subs:    make(map[string][]func(Confirmation)),
		settled: make(map[string]Confirmation),
	}
}

// SubmitPayment accepts the transfer and schedules its confirmation.
func (l *MemoryLedger) SubmitPayment(ctx context.Context, amount uint64, recipient string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	txID := "tx_" + uuid.NewString()
	go func() {
		if l.delay > 0 {
			time.Sleep(l.delay)
		}
		l.settle(Confirmation{LedgerTxID: txID, Status: models.PaymentConfirmed})
	}()
	return txID, nil
}

// SubscribeConfirmations registers fn for the transaction's outcome. An
// already-settled transaction replays its outcome immediately.
func (l *MemoryLedger) SubscribeConfirmations(ledgerTxID string, fn func(Confirmation)) {
	l.mu.Lock()
	if c, done := l.settled[ledgerTxID]; done {
		l.mu.Unlock()
		fn(c)
		return
	}
	l.subs[ledgerTxID] = append(l.subs[ledgerTxID], fn)
	l.mu.Unlock()
}

// Settle delivers an outcome to subscribers; tests drive failures here.
func (l *MemoryLedger) Settle(c Confirmation) { l.settle(c) }

func (l *MemoryLedger) settle(c Confirmation) {
	l.mu.Lock()
	// first outcome wins; a duplicate settlement is dropped
	if _, done := l.settled[c.LedgerTxID]; done {
		l.mu.Unlock()
		return
	}
	l.settled[c.LedgerTxID] = c
	fns := l.subs[c.LedgerTxID]
	delete(l.subs, c.LedgerTxID)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
