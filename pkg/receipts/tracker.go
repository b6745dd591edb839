// Package receipts applies read, viewed, delivery and identity-
// verification updates to interactions, threads and contact records.
package receipts

import (
	"encoding/json"
	"errors"

	"chatkit/pkg/errs"
	"chatkit/pkg/interactions"
	"chatkit/pkg/logger"
	"chatkit/pkg/models"
	"chatkit/pkg/store"
	"chatkit/pkg/threads"
	"chatkit/pkg/utils"
)

// Tracker coordinates receipt and verification state. Read timestamps
// only ever advance; stale remote verification notifications are
// discarded by counter comparison.
type Tracker struct {
	ints *interactions.Store
	reg  *threads.Registry
}

// NewTracker builds a tracker over the given stores.
func NewTracker(ints *interactions.Store, reg *threads.Registry) *Tracker {
	return &Tracker{ints: ints, reg: reg}
}

// MarkRead advances the read timestamp of a read-trackable interaction.
// Monotonic: a call with an earlier timestamp than recorded is a no-op,
// not an error. Optimistic conflicts are retried internally.
func (t *Tracker) MarkRead(interactionID string, ts int64) error {
	return t.mark(interactionID, ts, false)
}

// MarkViewed records the viewed timestamp and implies MarkRead when the
// interaction is not yet read.
func (t *Tracker) MarkViewed(interactionID string, ts int64) error {
	return t.mark(interactionID, ts, true)
}

func (t *Tracker) mark(interactionID string, ts int64, viewed bool) error {
	for {
		in, err := t.ints.Get(interactionID)
		if err != nil {
			return err
		}
		rt, ok := in.Receipts()
		if !ok {
			return errs.Validation("interaction %s (%s) does not track read state", interactionID, string(in.Kind))
		}

		advanceRead := ts > rt.ReadAt
		advanceViewed := viewed && ts > rt.ViewedAt
		if !advanceRead && !advanceViewed {
			return nil
		}
		wasUnread := !rt.Read()

		_, err = t.ints.Update(interactionID, in.Rev, func(cur *models.Interaction) error {
			r, ok := cur.Receipts()
			if !ok {
				return errs.Validation("interaction %s lost read tracking", interactionID)
			}
			if ts > r.ReadAt {
				r.ReadAt = ts
			}
			if viewed && ts > r.ViewedAt {
				r.ViewedAt = ts
				// viewed implies read; a later read timestamp is never rewound
				if r.ReadAt == 0 {
					r.ReadAt = r.ViewedAt
				}
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, errs.ErrConflict) {
				continue
			}
			return err
		}
		if wasUnread {
			t.decrementUnread(in.Thread)
		}
		return nil
	}
}

// decrementUnread lowers the thread's unread counter under the thread
// record's shared lock.
func (t *Tracker) decrementUnread(threadID string) {
	lock := store.ThreadLocks.Key(store.ThreadKey(threadID))
	lock.Lock()
	defer lock.Unlock()

	th, err := t.reg.Get(threadID)
	if err != nil {
		return
	}
	if th.UnreadCount > 0 {
		th.UnreadCount--
		b, merr := json.Marshal(th)
		if merr != nil {
			return
		}
		if perr := store.Put(store.ThreadKey(threadID), b); perr != nil {
			logger.Error("unread_count_update_failed", "thread", threadID, "error", perr)
		}
	}
}

// MarkDelivered records a delivery receipt for a recipient of an
// outgoing message. Monotonic per recipient.
func (t *Tracker) MarkDelivered(interactionID, recipient string, ts int64) error {
	for {
		in, err := t.ints.Get(interactionID)
		if err != nil {
			return err
		}
		if in.Kind != models.KindOutgoing || in.Outgoing == nil {
			return errs.Validation("interaction %s is not an outgoing message", interactionID)
		}
		if st := in.Outgoing.Recipients[recipient]; st != nil && st.DeliveredAt >= ts {
			return nil
		}
		_, err = t.ints.Update(interactionID, in.Rev, func(cur *models.Interaction) error {
			if cur.Outgoing.Recipients == nil {
				cur.Outgoing.Recipients = make(map[string]*models.RecipientState)
			}
			st := cur.Outgoing.Recipients[recipient]
			if st == nil {
				st = &models.RecipientState{}
				cur.Outgoing.Recipients[recipient] = st
			}
			if ts > st.DeliveredAt {
				st.DeliveredAt = ts
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, errs.ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
}

// Verification returns the current verification state for a contact,
// defaulting when no record exists.
func (t *Tracker) Verification(contact string) (*models.ContactVerification, error) {
	b, err := store.Get(store.ContactVerificationKey(contact))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return &models.ContactVerification{Contact: contact, State: models.VerificationDefault}, nil
		}
		return nil, err
	}
	var cv models.ContactVerification
	if err := json.Unmarshal(b, &cv); err != nil {
		return nil, err
	}
	return &cv, nil
}

// SetVerification applies a verification-state change: the contact's
// current-state record and the thread's history interaction commit in a
// single batch, so both succeed or both fail. Notifications whose
// counter does not exceed the recorded one are stale and discarded.
func (t *Tracker) SetVerification(threadID, contact string, state models.VerificationState, counter uint64, local bool) error {
	if !state.Valid() {
		return errs.Validation("unknown verification state %q", string(state))
	}

	key := store.ContactVerificationKey(contact)
	lock := store.ContactLocks.Key(key)
	lock.Lock()
	defer lock.Unlock()

	cur, err := t.Verification(contact)
	if err != nil {
		return err
	}
	if cur.Counter >= counter && cur.Counter != 0 {
		logger.Debug("verification_stale_discarded", "contact", contact, "counter", counter, "current", cur.Counter)
		return nil
	}

	cv := models.ContactVerification{
		Contact:   contact,
		State:     state,
		Counter:   counter,
		UpdatedTS: utils.NowNS(),
	}
	cvb, err := json.Marshal(cv)
	if err != nil {
		return err
	}

	in := &models.Interaction{
		Kind: models.KindVerificationChange,
		Verification: &models.VerificationChange{
			Contact: contact,
			State:   state,
			Local:   local,
			Counter: counter,
		},
	}
	batch, done, err := t.ints.AppendInBatch(threadID, in)
	if err != nil {
		return err
	}
	if err := batch.Put(key, cvb); err != nil {
		batch.Discard()
		done(err)
		return err
	}
	err = batch.Commit()
	done(err)
	if err != nil {
		return err
	}
	logger.Info("verification_changed", "contact", contact, "state", string(state), "counter", counter)
	return nil
}
