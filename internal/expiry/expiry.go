// Package expiry enforces disappearing-message deadlines. Deadlines are
// stamped at interaction creation from the configuration version active
// then and never restamped, so later timer changes cannot retroactively
// alter scheduled expirations. Enforcement is dual-path: a lazy sweep on
// thread access and an eager background runner; both reduce to the pure
// predicate models.Expired, so they compose idempotently.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"chatkit/pkg/errs"
	"chatkit/pkg/interactions"
	"chatkit/pkg/logger"
	"chatkit/pkg/models"
	"chatkit/pkg/store"
	"chatkit/pkg/utils"
)

// Options tunes the background sweep.
type Options struct {
	// Cron is the eager sweep schedule; empty means every minute.
	Cron string
	// Batch caps removals per thread per sweep pass.
	Batch int
}

// Scheduler stamps deadlines and drives both sweep paths.
type Scheduler struct {
	ints *interactions.Store
	opts Options

	mu sync.Mutex
	// pending counts live deadlines per thread; it is advisory only and
	// rebuilt lazily, never authoritative over the store.
	pending map[string]int
	// nearest is the earliest tracked deadline (ns), 0 when none.
	nearest int64
	wake    chan struct{}
}

// New builds a scheduler over the given interaction store.
func New(ints *interactions.Store, opts Options) *Scheduler {
	if opts.Batch <= 0 {
		opts.Batch = 256
	}
	return &Scheduler{
		ints:    ints,
		opts:    opts,
		pending: make(map[string]int),
		wake:    make(chan struct{}, 1),
	}
}

// Stamp sets the expiration deadline on an eligible interaction from the
// thread's configuration as it stands now. Configuration-update events
// and other non-expirable variants are left untouched.
func (s *Scheduler) Stamp(th *models.Thread, in *models.Interaction) {
	if !in.Expirable() || !th.Disappearing.Active() {
		return
	}
	received := in.ReceivedAt
	if received == 0 {
		received = utils.NowNS()
		in.ReceivedAt = received
	}
	in.ExpiresAt = received + int64(th.Disappearing.TimerSeconds)*int64(time.Second)
	in.ExpireVersion = th.Disappearing.Version
}

// Track registers an appended interaction's deadline for eager sweeping.
func (s *Scheduler) Track(in *models.Interaction) {
	if in.ExpiresAt == 0 {
		return
	}
	s.mu.Lock()
	s.pending[in.Thread]++
	if s.nearest == 0 || in.ExpiresAt < s.nearest {
		s.nearest = in.ExpiresAt
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RemovalHook is registered with the interaction store so an in-flight
// removal retracts the scheduler's bookkeeping before it commits. A
// superseded or already-swept deadline is simply dropped.
func (s *Scheduler) RemovalHook(in *models.Interaction, _ *store.Batch) error {
	if in.ExpiresAt == 0 {
		return nil
	}
	s.mu.Lock()
	if n := s.pending[in.Thread]; n > 1 {
		s.pending[in.Thread] = n - 1
	} else {
		delete(s.pending, in.Thread)
	}
	s.mu.Unlock()
	return nil
}

// OnThreadDeleted drops tracking for a deleted thread.
func (s *Scheduler) OnThreadDeleted(threadID string) {
	s.mu.Lock()
	delete(s.pending, threadID)
	s.mu.Unlock()
}

// SweepThread removes every expired interaction in the thread as of now.
// It is safe to run concurrently with deletion: an interaction already
// gone is a no-op, not an error. Returns the number removed.
func (s *Scheduler) SweepThread(threadID string, now int64) (int, error) {
	list, err := s.ints.List(threadID, interactions.ListOptions{})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	var next int64
	for i := range list {
		in := &list[i]
		if !models.Expired(now, in.ExpiresAt) {
			if in.ExpiresAt > 0 && (next == 0 || in.ExpiresAt < next) {
				next = in.ExpiresAt
			}
			continue
		}
		if err := s.ints.Remove(in.ID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
		expiredTotal.Inc()
		if s.opts.Batch > 0 && removed >= s.opts.Batch {
			break
		}
	}
	// surviving deadlines re-arm the eager timer
	if next > 0 {
		s.mu.Lock()
		if s.nearest == 0 || next < s.nearest {
			s.nearest = next
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		logger.Info("disappearing_sweep", "thread", threadID, "removed", removed)
	}
	return removed, nil
}

// SweepAll runs a sweep pass across every thread.
func (s *Scheduler) SweepAll(now int64) error {
	return store.Range("thridx:", func(_ string, val []byte) (bool, error) {
		if _, err := s.SweepThread(string(val), now); err != nil {
			logger.Error("disappearing_sweep_failed", "thread", string(val), "error", err)
		}
		return true, nil
	})
}

// sweepPending sweeps only threads known to hold live deadlines.
func (s *Scheduler) sweepPending(now int64) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	// pending counts are maintained by RemovalHook alone as the sweep's
	// removals commit; adjusting them here as well would double-count
	for _, id := range ids {
		if _, err := s.SweepThread(id, now); err != nil {
			logger.Error("disappearing_sweep_failed", "thread", id, "error", err)
		}
	}
}

// Start launches the eager sweep runner. One full pass runs at startup so
// deadlines that elapsed while the process was down are enforced, then
// the runner wakes on the cron schedule and on Track notifications.
func (s *Scheduler) Start(ctx context.Context) (context.CancelFunc, error) {
	cronExpr := s.opts.Cron
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("expiry_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", s.opts.Cron)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go s.run(ctx2, cronExpr)
	logger.Info("expiry_runner_started", "cron", cronExpr)
	return cancel, nil
}

func (s *Scheduler) run(ctx context.Context, cronExpr string) {
	if err := s.SweepAll(utils.NowNS()); err != nil {
		logger.Error("expiry_startup_sweep_failed", "error", err)
	}
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("expiry_nexttick_failed", "cron", cronExpr, "error", err)
			next = now.Add(30 * time.Second)
		}
		// wake at the nearest tracked deadline when it precedes the
		// next cron tick
		s.mu.Lock()
		if s.nearest != 0 {
			if dl := time.Unix(0, s.nearest).UTC(); dl.Before(next) {
				next = dl
			}
		}
		s.mu.Unlock()

		select {
		case <-time.After(time.Until(next)):
			s.mu.Lock()
			s.nearest = 0
			s.mu.Unlock()
			s.sweepPending(utils.NowNS())
		case <-s.wake:
			// a new deadline was tracked; recompute the wake-up
			continue
		case <-ctx.Done():
			logger.Info("expiry_runner_stopping")
			return
		}
	}
}
