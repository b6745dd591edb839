// Package interactions owns Interaction entities scoped to threads:
// ordered appends, optimistic mutation, removal with dependent
// retraction, and range listing for the query surface.
package interactions

import (
	"encoding/json"
	"errors"
	"sync"

	"chatkit/pkg/errs"
	"chatkit/pkg/logger"
	"chatkit/pkg/models"
	"chatkit/pkg/store"
	"chatkit/pkg/utils"
)

// indexEntry locates an interaction's primary record from its id.
type indexEntry struct {
	Thread  string `json:"thread"`
	SortKey uint64 `json:"sort_key"`
}

// RemovalHook is invoked synchronously before a removal commits. Hooks
// stage their own retractions into the same batch so dependent state
// (payment anchors, expiry bookkeeping) disappears atomically with the
// interaction. An error aborts the removal.
type RemovalHook func(in *models.Interaction, b *store.Batch) error

// Store owns interaction records. Sort keys are allocated under the
// thread record's shared stripe lock (store.ThreadLocks) and persisted with
// the interaction in one batch, so they are strictly increasing and
// never reused even after deletion.
type Store struct {
	mu    sync.Mutex
	hooks []RemovalHook

	hub *Hub
}

// NewStore builds an interaction store with a fresh fanout hub.
func NewStore() *Store {
	return &Store{hub: NewHub()}
}

// Hub exposes the change-notification fanout for observers.
func (s *Store) Hub() *Hub { return s.hub }

// OnRemove registers a removal hook.
func (s *Store) OnRemove(fn RemovalHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func loadThread(threadID string) (*models.Thread, error) {
	b, err := store.Get(store.ThreadKey(threadID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.NotFound("thread", threadID)
		}
		return nil, err
	}
	var th models.Thread
	if err := json.Unmarshal(b, &th); err != nil {
		return nil, err
	}
	return &th, nil
}

// Append inserts a new interaction into the thread, assigning the next
// sort key atomically, and returns the interaction id.
func (s *Store) Append(threadID string, in *models.Interaction) (string, error) {
	lock := store.ThreadLocks.Key(store.ThreadKey(threadID))
	lock.Lock()
	defer lock.Unlock()

	batch, err := store.NewBatch()
	if err != nil {
		return "", err
	}
	defer batch.Discard()
	if err := s.appendInBatch(batch, threadID, in); err != nil {
		return "", err
	}
	if err := batch.Commit(); err != nil {
		return "", err
	}
	appendsTotal.WithLabelValues(string(in.Kind)).Inc()
	s.hub.Publish(Change{Type: ChangeAppended, Thread: threadID, Interaction: in})
	return in.ID, nil
}

// AppendInBatch stages an append into an externally owned batch while
// holding the thread stripe lock, for callers that must commit an
// interaction together with other writes (verification tracking). The
// lock is released when the returned commit function has been called.
func (s *Store) AppendInBatch(threadID string, in *models.Interaction) (*store.Batch, func(error), error) {
	lock := store.ThreadLocks.Key(store.ThreadKey(threadID))
	lock.Lock()

	batch, err := store.NewBatch()
	if err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	if err := s.appendInBatch(batch, threadID, in); err != nil {
		batch.Discard()
		lock.Unlock()
		return nil, nil, err
	}
	done := func(commitErr error) {
		if commitErr == nil {
			appendsTotal.WithLabelValues(string(in.Kind)).Inc()
			s.hub.Publish(Change{Type: ChangeAppended, Thread: threadID, Interaction: in})
		}
		lock.Unlock()
	}
	return batch, done, nil
}

// appendInBatch assigns identity, sort key and revision, validates the
// variant invariant, and stages interaction + index + thread updates.
// Caller holds the thread stripe lock.
func (s *Store) appendInBatch(b *store.Batch, threadID string, in *models.Interaction) error {
	th, err := loadThread(threadID)
	if err != nil {
		return err
	}

	in.Thread = threadID
	if in.ID == "" {
		in.ID = utils.GenInteractionID()
	}
	if in.TS == 0 {
		in.TS = utils.NowNS()
	}
	if in.ReceivedAt == 0 {
		in.ReceivedAt = in.TS
	}
	if err := in.Validate(); err != nil {
		return err
	}

	th.LastSortKey++
	in.SortKey = th.LastSortKey
	in.Rev = 1
	th.LastInteractionTS = in.TS
	th.UpdatedTS = in.TS
	if rt, ok := in.Receipts(); ok && !rt.Read() {
		th.UnreadCount++
	}

	ib, err := json.Marshal(in)
	if err != nil {
		return err
	}
	tb, err := json.Marshal(th)
	if err != nil {
		return err
	}
	idx, err := json.Marshal(indexEntry{Thread: threadID, SortKey: in.SortKey})
	if err != nil {
		return err
	}
	if err := b.Put(store.InteractionKey(threadID, in.SortKey), ib); err != nil {
		return err
	}
	if err := b.Put(store.InteractionIndexKey(in.ID), idx); err != nil {
		return err
	}
	return b.Put(store.ThreadKey(threadID), tb)
}

// Get loads an interaction snapshot by id.
func (s *Store) Get(id string) (*models.Interaction, error) {
	idxb, err := store.Get(store.InteractionIndexKey(id))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.NotFound("interaction", id)
		}
		return nil, err
	}
	var idx indexEntry
	if err := json.Unmarshal(idxb, &idx); err != nil {
		return nil, err
	}
	b, err := store.Get(store.InteractionKey(idx.Thread, idx.SortKey))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.NotFound("interaction", id)
		}
		return nil, err
	}
	var in models.Interaction
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// Update applies mutate to the interaction and persists it, failing with
// ErrConflict when the stored revision differs from expectedRev. The
// caller re-reads and retries on conflict; nothing is merged silently.
func (s *Store) Update(id string, expectedRev uint64, mutate func(*models.Interaction) error) (*models.Interaction, error) {
	in, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	lock := store.ThreadLocks.Key(store.ThreadKey(in.Thread))
	lock.Lock()
	defer lock.Unlock()

	// re-read under the stripe lock; the snapshot above may be stale
	in, err = s.Get(id)
	if err != nil {
		return nil, err
	}
	if in.Rev != expectedRev {
		conflictsTotal.Inc()
		return nil, errs.Conflict(id, expectedRev, in.Rev)
	}
	if err := mutate(in); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.Rev++
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	if err := store.Put(store.InteractionKey(in.Thread, in.SortKey), b); err != nil {
		return nil, err
	}
	s.hub.Publish(Change{Type: ChangeUpdated, Thread: in.Thread, Interaction: in})
	return in, nil
}

// Remove deletes an interaction. Removal hooks run synchronously first
// and stage their retractions into the same batch, so a payment anchor
// or expiry record never outlives its interaction. Removing an absent
// interaction yields ErrNotFound.
func (s *Store) Remove(id string) error {
	in, err := s.Get(id)
	if err != nil {
		return err
	}

	lock := store.ThreadLocks.Key(store.ThreadKey(in.Thread))
	lock.Lock()
	defer lock.Unlock()

	// the record may have been removed while acquiring the lock
	in, err = s.Get(id)
	if err != nil {
		return err
	}

	batch, err := store.NewBatch()
	if err != nil {
		return err
	}
	defer batch.Discard()

	s.mu.Lock()
	hooks := append([]RemovalHook(nil), s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		if err := fn(in, batch); err != nil {
			return err
		}
	}

	if err := batch.Delete(store.InteractionKey(in.Thread, in.SortKey)); err != nil {
		return err
	}
	if err := batch.Delete(store.InteractionIndexKey(in.ID)); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	removalsTotal.Inc()
	logger.Debug("interaction_removed", "thread", in.Thread, "id", in.ID, "kind", string(in.Kind))
	s.hub.Publish(Change{Type: ChangeRemoved, Thread: in.Thread, Interaction: in})
	return nil
}

// React adjusts the reaction tally on a message interaction. Adding
// increments the emoji's count; removing decrements and drops the entry
// at zero, and removing an absent emoji is a no-op. Revision conflicts
// with concurrent reactors are retried internally.
func (s *Store) React(id, emoji string, remove bool) (*models.Interaction, error) {
	if emoji == "" {
		return nil, errs.Validation("reaction emoji required")
	}
	for {
		in, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		out, err := s.Update(id, in.Rev, func(in *models.Interaction) error {
			var m *map[string]int
			switch in.Kind {
			case models.KindIncoming:
				m = &in.Incoming.Reactions
			case models.KindOutgoing:
				m = &in.Outgoing.Reactions
			default:
				return errs.Validation("interaction %s of kind %s does not accept reactions", in.ID, string(in.Kind))
			}
			if remove {
				if *m == nil {
					return nil
				}
				if n := (*m)[emoji]; n <= 1 {
					delete(*m, emoji)
				} else {
					(*m)[emoji] = n - 1
				}
				return nil
			}
			if *m == nil {
				*m = map[string]int{}
			}
			(*m)[emoji]++
			return nil
		})
		if errors.Is(err, errs.ErrConflict) {
			continue
		}
		return out, err
	}
}

// ListOptions bounds a List call. AfterSortKey makes the sequence
// restartable: pass the last sort key seen to resume.
type ListOptions struct {
	AfterSortKey uint64
	Limit        int
}

// List returns interaction snapshots for a thread ordered by sort key.
func (s *Store) List(threadID string, opts ListOptions) ([]models.Interaction, error) {
	if _, err := loadThread(threadID); err != nil {
		return nil, err
	}
	var out []models.Interaction
	err := store.Range(store.InteractionPrefix(threadID), func(key string, val []byte) (bool, error) {
		var in models.Interaction
		if err := json.Unmarshal(val, &in); err != nil {
			return false, err
		}
		if in.SortKey <= opts.AfterSortKey {
			return true, nil
		}
		out = append(out, in)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
