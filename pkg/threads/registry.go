// Package threads owns thread records: idempotent lookup-or-create keyed
// by conversation identity, disappearing-configuration updates, and
// transactional cascading deletion.
package threads

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

// Defaults carries the process-wide settings stamped onto newly created
// threads. Passed explicitly at construction; there is no ambient state.
type Defaults struct {
	Disappearing models.DisappearingMessagesConfiguration
}

// DeleteObserver is notified after a thread deletion commits, so
// dependent components (expiry wakeups, live observers) can drop state.
type DeleteObserver func(threadID string)

// Registry resolves and owns Thread entities. Resolution for the same
// identity key is serialized on a striped lock (shared with every other
// writer of the same record via store.ThreadLocks) so concurrent callers
// can never create duplicate threads.
type Registry struct {
	defaults Defaults

	mu        sync.Mutex
	observers []DeleteObserver
}

// NewRegistry builds a registry with the given creation defaults.
func NewRegistry(defaults Defaults) *Registry {
	return &Registry{defaults: defaults}
}

// OnDelete registers an observer invoked after a cascade commits.
func (r *Registry) OnDelete(fn DeleteObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}


// ResolveDirect returns the direct thread for the given contact identity,
// creating it with process defaults when absent. Idempotent.
func (r *Registry) ResolveDirect(contact string) (*models.Thread, error) {
	if contact == "" {
		return nil, errs.Validation("direct thread resolution requires a contact")
	}
	return r.resolve(store.DirectThreadIndexKey(contact), func() *models.Thread {
		return &models.Thread{
			Kind:         models.ThreadDirect,
			Participants: []string{contact},
		}
	})
}

// ResolveGroup returns the thread for the given group identity, creating
// it when absent. The participant set must be non-empty on creation.
func (r *Registry) ResolveGroup(groupID string, participants []string) (*models.Thread, error) {
	if groupID == "" {
		return nil, errs.Validation("group thread resolution requires a group id")
	}
	return r.resolve(store.GroupThreadIndexKey(groupID), func() *models.Thread {
		return &models.Thread{
			Kind:         models.ThreadGroup,
			GroupID:      groupID,
			Participants: append([]string(nil), participants...),
		}
	})
}

// ResolveStory returns the broadcast-story thread for the given
// distribution list, creating it when absent.
func (r *Registry) ResolveStory(storyID, name string) (*models.Thread, error) {
	if storyID == "" {
		return nil, errs.Validation("story thread resolution requires a distribution id")
	}
	return r.resolve(store.StoryThreadIndexKey(storyID), func() *models.Thread {
		return &models.Thread{
			Kind:    models.ThreadStory,
			StoryID: storyID,
			Name:    name,
		}
	})
}

// resolve serializes lookup-or-create on the identity index key.
func (r *Registry) resolve(indexKey string, build func() *models.Thread) (*models.Thread, error) {
	lock := store.ThreadLocks.Key(indexKey)
	lock.Lock()
	defer lock.Unlock()

	if idb, err := store.Get(indexKey); err == nil {
		return r.Get(string(idb))
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	th := build()
	th.ID = utils.GenThreadID()
	now := utils.NowNS()
	th.CreatedTS = now
	th.UpdatedTS = now
	th.Disappearing = r.defaults.Disappearing
	if err := th.Validate(); err != nil {
		return nil, err
	}

	b, err := json.Marshal(th)
	if err != nil {
		return nil, err
	}
	batch, err := store.NewBatch()
	if err != nil {
		return nil, err
	}
	defer batch.Discard()
	if err := batch.Put(store.ThreadKey(th.ID), b); err != nil {
		return nil, err
	}
	if err := batch.Put(indexKey, []byte(th.ID)); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	logger.Info("thread_created", "thread", th.ID, "kind", string(th.Kind))
	return th, nil
}

// Get loads a thread record by id.
func (r *Registry) Get(threadID string) (*models.Thread, error) {
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

// put persists a thread record.
func (r *Registry) put(th *models.Thread) error {
	b, err := json.Marshal(th)
	if err != nil {
		return err
	}
	return store.Put(store.ThreadKey(th.ID), b)
}

// ApplyDisappearing applies a configuration update under the version race
// rule: the higher version wins; a version tie is broken by the later
// wall-clock timestamp. Returns the winning configuration and whether the
// proposed one was applied. The caller records the history interaction.
func (r *Registry) ApplyDisappearing(threadID string, cfg models.DisappearingMessagesConfiguration, ts int64) (models.DisappearingMessagesConfiguration, bool, error) {
	lock := store.ThreadLocks.Key(store.ThreadKey(threadID))
	lock.Lock()
	defer lock.Unlock()

	th, err := r.Get(threadID)
	if err != nil {
		return models.DisappearingMessagesConfiguration{}, false, err
	}
	cur := th.Disappearing
	if cfg.Version < cur.Version {
		return cur, false, nil
	}
	if cfg.Version == cur.Version && ts <= cur.AppliedTS {
		return cur, false, nil
	}
	cfg.AppliedTS = ts
	th.Disappearing = cfg
	th.UpdatedTS = ts
	if err := r.put(th); err != nil {
		return models.DisappearingMessagesConfiguration{}, false, err
	}
	logger.Info("disappearing_config_applied", "thread", threadID, "version", cfg.Version, "enabled", cfg.Enabled, "timer_s", cfg.TimerSeconds)
	return cfg, true, nil
}

// SetFlags updates mute/archive flags on a thread.
func (r *Registry) SetFlags(threadID string, muted, archived bool) error {
	lock := store.ThreadLocks.Key(store.ThreadKey(threadID))
	lock.Lock()
	defer lock.Unlock()

	th, err := r.Get(threadID)
	if err != nil {
		return err
	}
	th.Muted = muted
	th.Archived = archived
	th.UpdatedTS = utils.NowNS()
	return r.put(th)
}

// Delete removes a thread and everything it owns: interactions, their id
// index entries, payment models and ledger indexes, and the identity
// index. The cascade commits as a single batch; a failure leaves the
// prior state fully intact and the caller retries wholesale.
func (r *Registry) Delete(threadID string) error {
	lock := store.ThreadLocks.Key(store.ThreadKey(threadID))
	lock.Lock()
	defer lock.Unlock()

	th, err := r.Get(threadID)
	if err != nil {
		return err
	}

	batch, err := store.NewBatch()
	if err != nil {
		return err
	}
	defer batch.Discard()

	if err := batch.Delete(store.ThreadKey(threadID)); err != nil {
		return err
	}
	switch th.Kind {
	case models.ThreadDirect:
		if len(th.Participants) == 1 {
			_ = batch.Delete(store.DirectThreadIndexKey(th.Participants[0]))
		}
	case models.ThreadGroup:
		_ = batch.Delete(store.GroupThreadIndexKey(th.GroupID))
	case models.ThreadStory:
		_ = batch.Delete(store.StoryThreadIndexKey(th.StoryID))
	}

	count := 0
	err = store.Range(store.InteractionPrefix(threadID), func(key string, val []byte) (bool, error) {
		var in models.Interaction
		if jerr := json.Unmarshal(val, &in); jerr == nil {
			if in.ID != "" {
				_ = batch.Delete(store.InteractionIndexKey(in.ID))
			}
			if pid, ok := in.PaymentID(); ok {
				if pb, perr := store.Get(store.PaymentKey(pid)); perr == nil {
					var pm models.PaymentModel
					if json.Unmarshal(pb, &pm) == nil && pm.LedgerTxID != "" {
						_ = batch.Delete(store.LedgerIndexKey(pm.LedgerTxID))
					}
				}
				_ = batch.Delete(store.PaymentKey(pid))
			}
		}
		count++
		return true, batch.Delete(key)
	})
	if err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	logger.Info("thread_deleted", "thread", threadID, "interactions", count)

	r.mu.Lock()
	obs := append([]DeleteObserver(nil), r.observers...)
	r.mu.Unlock()
	for _, fn := range obs {
		fn(threadID)
	}
	return nil
}
