// Package payments tracks payment interactions through the transfer
// lifecycle and reconciles them with ledger notifications. The monetary
// state machine lives on models.PaymentModel; interactions only anchor
// payments in chat history.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chatkit/pkg/errs"
	"chatkit/pkg/interactions"
	"chatkit/pkg/logger"
	"chatkit/pkg/models"
	"chatkit/pkg/store"
	"chatkit/pkg/threads"
	"chatkit/pkg/utils"
)

// Confirmation is a terminal ledger outcome for a submitted payment.
type Confirmation struct {
	LedgerTxID string
	Status     models.PaymentStatus // PaymentConfirmed or PaymentFailed
	Failure    string
}

// Ledger is the external payment network collaborator.
type Ledger interface {
	SubmitPayment(ctx context.Context, amount uint64, recipient string) (ledgerTxID string, err error)
	SubscribeConfirmations(ledgerTxID string, fn func(Confirmation))
}

// Stamper lets the wiring inject disappearing-deadline stamping for
// payment interactions without a package dependency on the scheduler.
type Stamper func(*models.Thread, *models.Interaction)

// Manager owns payment models. Record mutation is serialized on the
// payment key's shared stripe lock; first sight of a ledger transaction
// id is serialized on the ledger index key so concurrent notifications
// cannot create duplicates.
type Manager struct {
	ints   *interactions.Store
	reg    *threads.Registry
	ledger Ledger
	stamp  Stamper

	// SubmitTimeout bounds the ledger handoff in Submit; zero means the
	// caller's context deadline applies unchanged.
	SubmitTimeout time.Duration
}

// NewManager builds a payment manager. stamp may be nil.
func NewManager(ints *interactions.Store, reg *threads.Registry, ledger Ledger, stamp Stamper) *Manager {
	if stamp == nil {
		stamp = func(*models.Thread, *models.Interaction) {}
	}
	return &Manager{ints: ints, reg: reg, ledger: ledger, stamp: stamp}
}

// Get loads a payment model by id.
func (m *Manager) Get(paymentID string) (*models.PaymentModel, error) {
	b, err := store.Get(store.PaymentKey(paymentID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.NotFound("payment", paymentID)
		}
		return nil, err
	}
	var pm models.PaymentModel
	if err := json.Unmarshal(b, &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

func (m *Manager) put(b *store.Batch, pm *models.PaymentModel) error {
	pm.UpdatedTS = utils.NowNS()
	data, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	if b != nil {
		return b.Put(store.PaymentKey(pm.ID), data)
	}
	return store.Put(store.PaymentKey(pm.ID), data)
}

// CreateOutgoing creates a payment model in the created state together
// with its anchoring interaction, atomically.
func (m *Manager) CreateOutgoing(threadID string, amount uint64, recipient, note string) (*models.PaymentModel, error) {
	if amount == 0 {
		return nil, errs.Validation("payment amount must be positive")
	}
	th, err := m.reg.Get(threadID)
	if err != nil {
		return nil, err
	}

	pm := &models.PaymentModel{
		ID:        utils.GenPaymentID(),
		Direction: models.PaymentOutgoing,
		Amount:    amount,
		Status:    models.PaymentCreated,
		Thread:    threadID,
		Recipient: recipient,
		CreatedTS: utils.NowNS(),
	}
	in := &models.Interaction{
		Kind: models.KindPayment,
		Payment: &models.PaymentMessage{
			Direction: models.PaymentOutgoing,
			PaymentID: pm.ID,
			Note:      note,
		},
	}
	m.stamp(th, in)

	batch, done, err := m.ints.AppendInBatch(threadID, in)
	if err != nil {
		return nil, err
	}
	pm.InteractionID = in.ID
	if err := m.put(batch, pm); err != nil {
		batch.Discard()
		done(err)
		return nil, err
	}
	err = batch.Commit()
	done(err)
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(models.PaymentCreated)).Inc()
	logger.Info("payment_created", "payment", pm.ID, "thread", threadID, "amount", amount)
	return pm, nil
}

// Submit hands a created payment to the ledger. On acceptance the model
// moves to submitted and carries the ledger transaction id; a submission
// failure moves it to failed.
func (m *Manager) Submit(ctx context.Context, paymentID string) (*models.PaymentModel, error) {
	if m.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.SubmitTimeout)
		defer cancel()
	}
	pm, err := m.submit(ctx, paymentID)
	if err != nil {
		return pm, err
	}

	// subscribed outside the payment stripe lock: a ledger that already
	// settled replays the outcome synchronously, and ApplyConfirmation
	// takes the same stripe
	m.ledger.SubscribeConfirmations(pm.LedgerTxID, func(c Confirmation) {
		if _, err := m.ApplyConfirmation(c); err != nil {
			logger.Error("payment_confirmation_failed", "ledger_tx", c.LedgerTxID, "status", string(c.Status), "error", err)
		}
	})
	return pm, nil
}

func (m *Manager) submit(ctx context.Context, paymentID string) (*models.PaymentModel, error) {
	lock := store.PaymentLocks.Key(store.PaymentKey(paymentID))
	lock.Lock()
	defer lock.Unlock()

	pm, err := m.Get(paymentID)
	if err != nil {
		return nil, err
	}
	if pm.Status != models.PaymentCreated {
		return nil, errs.StateConflict("payment "+pm.ID, string(pm.Status), string(models.PaymentSubmitted))
	}

	txID, err := m.ledger.SubmitPayment(ctx, pm.Amount, pm.Recipient)
	if err != nil {
		pm.Status = models.PaymentFailed
		pm.Failure = err.Error()
		if perr := m.put(nil, pm); perr != nil {
			return nil, perr
		}
		transitionsTotal.WithLabelValues(string(models.PaymentFailed)).Inc()
		return pm, err
	}

	pm.Status = models.PaymentSubmitted
	pm.LedgerTxID = txID
	batch, err := store.NewBatch()
	if err != nil {
		return nil, err
	}
	defer batch.Discard()
	if err := m.put(batch, pm); err != nil {
		return nil, err
	}
	if err := batch.Put(store.LedgerIndexKey(txID), []byte(pm.ID)); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(models.PaymentSubmitted)).Inc()
	logger.Info("payment_submitted", "payment", pm.ID, "ledger_tx", txID)
	return pm, nil
}

// ApplyConfirmation applies a terminal ledger outcome. Re-applying the
// same terminal status is a no-op returning the settled model; applying
// a conflicting terminal status fails with ErrStateConflict and leaves
// the original outcome untouched.
func (m *Manager) ApplyConfirmation(c Confirmation) (*models.PaymentModel, error) {
	if c.Status != models.PaymentConfirmed && c.Status != models.PaymentFailed {
		return nil, errs.Validation("confirmation status %q is not terminal", string(c.Status))
	}
	idb, err := store.Get(store.LedgerIndexKey(c.LedgerTxID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.NotFound("ledger transaction", c.LedgerTxID)
		}
		return nil, err
	}

	lock := store.PaymentLocks.Key(store.PaymentKey(string(idb)))
	lock.Lock()
	defer lock.Unlock()

	pm, err := m.Get(string(idb))
	if err != nil {
		return nil, err
	}

	if pm.Status == c.Status {
		return pm, nil
	}
	if pm.Status.Terminal() {
		return nil, errs.StateConflict("payment "+pm.ID, string(pm.Status), string(c.Status))
	}
	if !pm.Status.CanTransition(c.Status) {
		return nil, errs.StateConflict("payment "+pm.ID, string(pm.Status), string(c.Status))
	}
	pm.Status = c.Status
	pm.Failure = c.Failure
	if err := m.put(nil, pm); err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(c.Status)).Inc()
	logger.Info("payment_settled", "payment", pm.ID, "status", string(c.Status))
	return pm, nil
}

// ReceiveIncoming handles a ledger notification observed by this client.
// When the transaction id matches a pending outgoing payment it settles
// that payment; otherwise it records a new incoming payment in the given
// thread, already confirmed since the funds cleared on the ledger.
func (m *Manager) ReceiveIncoming(threadID, ledgerTxID string, amount uint64, sender string) (*models.PaymentModel, error) {
	if _, err := store.Get(store.LedgerIndexKey(ledgerTxID)); err == nil {
		return m.ApplyConfirmation(Confirmation{LedgerTxID: ledgerTxID, Status: models.PaymentConfirmed})
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	lock := store.LedgerLocks.Key(store.LedgerIndexKey(ledgerTxID))
	lock.Lock()
	defer lock.Unlock()

	// second lookup under the txid lock: a concurrent notification for
	// the same transaction must not create a duplicate record
	if idb, err := store.Get(store.LedgerIndexKey(ledgerTxID)); err == nil {
		return m.Get(string(idb))
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	th, err := m.reg.Get(threadID)
	if err != nil {
		return nil, err
	}
	pm := &models.PaymentModel{
		ID:         utils.GenPaymentID(),
		Direction:  models.PaymentIncoming,
		Amount:     amount,
		Status:     models.PaymentConfirmed,
		Thread:     threadID,
		LedgerTxID: ledgerTxID,
		Sender:     sender,
		CreatedTS:  utils.NowNS(),
	}
	in := &models.Interaction{
		Kind: models.KindPayment,
		Payment: &models.PaymentMessage{
			Direction: models.PaymentIncoming,
			PaymentID: pm.ID,
		},
	}
	m.stamp(th, in)

	batch, done, err := m.ints.AppendInBatch(threadID, in)
	if err != nil {
		return nil, err
	}
	pm.InteractionID = in.ID
	if err := m.put(batch, pm); err != nil {
		batch.Discard()
		done(err)
		return nil, err
	}
	if err := batch.Put(store.LedgerIndexKey(ledgerTxID), []byte(pm.ID)); err != nil {
		batch.Discard()
		done(err)
		return nil, err
	}
	err = batch.Commit()
	done(err)
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(models.PaymentConfirmed)).Inc()
	logger.Info("payment_received", "payment", pm.ID, "ledger_tx", ledgerTxID, "amount", amount)
	return pm, nil
}

// Archive moves a settled payment to the display-only archived state.
// Archived records accept no further transitions.
func (m *Manager) Archive(paymentID string) (*models.PaymentModel, error) {
	lock := store.PaymentLocks.Key(store.PaymentKey(paymentID))
	lock.Lock()
	defer lock.Unlock()

	pm, err := m.Get(paymentID)
	if err != nil {
		return nil, err
	}
	if pm.Status == models.PaymentArchived {
		return pm, nil
	}
	if !pm.Status.CanTransition(models.PaymentArchived) {
		return nil, errs.StateConflict("payment "+pm.ID, string(pm.Status), string(models.PaymentArchived))
	}
	pm.Status = models.PaymentArchived
	if err := m.put(nil, pm); err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(models.PaymentArchived)).Inc()
	return pm, nil
}

// RequestActivation appends a payment-activation request marker.
func (m *Manager) RequestActivation(threadID, requester string) (string, error) {
	in := &models.Interaction{
		Kind: models.KindPaymentActivation,
		Activation: &models.PaymentActivation{
			State:     models.ActivationRequested,
			Requester: requester,
		},
	}
	return m.ints.Append(threadID, in)
}

// FinishActivation marks an activation request finished, retracting its
// pending visual state. Finishing an already finished request is a no-op.
func (m *Manager) FinishActivation(interactionID string) error {
	for {
		in, err := m.ints.Get(interactionID)
		if err != nil {
			return err
		}
		if in.Kind != models.KindPaymentActivation || in.Activation == nil {
			return errs.Validation("interaction %s is not a payment-activation request", interactionID)
		}
		if in.Activation.State == models.ActivationFinished {
			return nil
		}
		_, err = m.ints.Update(interactionID, in.Rev, func(cur *models.Interaction) error {
			cur.Activation.State = models.ActivationFinished
			return nil
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrConflict) {
			return err
		}
	}
}

// RemovalHook retracts the payment model and ledger index when the
// anchoring interaction is removed, inside the removal's own batch.
func (m *Manager) RemovalHook(in *models.Interaction, b *store.Batch) error {
	pid, ok := in.PaymentID()
	if !ok {
		return nil
	}
	pm, err := m.Get(pid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	if pm.LedgerTxID != "" {
		if err := b.Delete(store.LedgerIndexKey(pm.LedgerTxID)); err != nil {
			return err
		}
	}
	return b.Delete(store.PaymentKey(pid))
}
