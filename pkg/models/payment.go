package models

// PaymentDirection marks whether funds move toward or away from the
// local account.
type PaymentDirection string

const (
	PaymentIncoming PaymentDirection = "incoming"
	PaymentOutgoing PaymentDirection = "outgoing"
)

// PaymentStatus is the transfer lifecycle state. Transitions:
// created -> submitted -> (confirmed | failed) -> archived.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "created"
	PaymentSubmitted PaymentStatus = "submitted"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	// PaymentArchived is display-only; no further transitions accepted.
	PaymentArchived PaymentStatus = "archived"
)

// Terminal reports whether s accepts no further ledger-driven transitions.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentConfirmed || s == PaymentFailed || s == PaymentArchived
}

// CanTransition reports whether s -> to is a legal move.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	switch s {
	case PaymentCreated:
		return to == PaymentSubmitted || to == PaymentFailed
	case PaymentSubmitted:
		return to == PaymentConfirmed || to == PaymentFailed
	case PaymentConfirmed, PaymentFailed:
		return to == PaymentArchived
	default:
		return false
	}
}

// PaymentModel carries the monetary state for a payment interaction.
// One-to-one with its interaction; mutated only by the payment manager;
// immutable once archived.
type PaymentModel struct {
	ID        string           `json:"id"`
	Direction PaymentDirection `json:"direction"`
	// Amount is in the ledger's smallest unit.
	Amount    uint64        `json:"amount"`
	Status    PaymentStatus `json:"status"`
	Thread    string        `json:"thread"`
	// InteractionID anchors the payment in chat history.
	InteractionID string `json:"interaction_id"`
	// LedgerTxID is unset until the ledger accepts the submission.
	LedgerTxID string `json:"ledger_tx_id,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Failure    string `json:"failure,omitempty"`
	CreatedTS  int64  `json:"created_ts,omitempty"`
	UpdatedTS  int64  `json:"updated_ts,omitempty"`
}
