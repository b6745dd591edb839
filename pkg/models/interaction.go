package models

import "chatkit/pkg/errs"

// InteractionKind tags the active variant of an Interaction. The set is
// closed: every interaction carries exactly one matching payload.
type InteractionKind string

const (
	KindIncoming           InteractionKind = "incoming"
	KindOutgoing           InteractionKind = "outgoing"
	KindCall               InteractionKind = "call"
	KindGroupCall          InteractionKind = "group_call"
	KindInfo               InteractionKind = "info"
	KindError              InteractionKind = "error"
	KindVerificationChange InteractionKind = "verification_change"
	KindDisappearingUpdate InteractionKind = "disappearing_update"
	KindPayment            InteractionKind = "payment"
	KindPaymentActivation  InteractionKind = "payment_activation"
	KindUnknownProtocol    InteractionKind = "unknown_protocol"
	KindContactOffer       InteractionKind = "contact_offer"
	KindQuote              InteractionKind = "quote"
)

// ErrorKind subtypes an error event.
type ErrorKind string

const (
	ErrorGeneric                     ErrorKind = "generic"
	ErrorInvalidIdentityKey          ErrorKind = "invalid_identity_key"
	ErrorInvalidIdentityKeySending   ErrorKind = "invalid_identity_key_sending"
	ErrorInvalidIdentityKeyReceiving ErrorKind = "invalid_identity_key_receiving"
	ErrorDecryptionPlaceholder       ErrorKind = "decryption_placeholder"
)

// OfferKind subtypes a contact-offer marker.
type OfferKind string

const (
	OfferAddToContacts       OfferKind = "add_to_contacts"
	OfferShareProfile        OfferKind = "share_profile"
	OfferUnknownContactBlock OfferKind = "unknown_contact_block"
)

// ReadTracking is embedded in variants whose read state is tracked.
// Invariant: a non-zero ViewedAt implies a non-zero ReadAt.
type ReadTracking struct {
	ReadAt   int64 `json:"read_at,omitempty"`
	ViewedAt int64 `json:"viewed_at,omitempty"`
}

// Read reports whether the record has been marked read.
func (r *ReadTracking) Read() bool { return r.ReadAt != 0 }

// QuoteRef references a quoted interaction. The original may since have
// been deleted or expired; the excerpt keeps the reference renderable.
type QuoteRef struct {
	InteractionID string `json:"interaction_id,omitempty"`
	AuthorID      string `json:"author_id"`
	SortKey       uint64 `json:"sort_key,omitempty"`
	Excerpt       string `json:"excerpt,omitempty"`
}

// RecipientState tracks per-recipient delivery and read receipts on an
// outgoing message.
type RecipientState struct {
	DeliveredAt int64 `json:"delivered_at,omitempty"`
	ReadAt      int64 `json:"read_at,omitempty"`
}

// IncomingMessage is a message authored by a remote participant.
type IncomingMessage struct {
	ReadTracking
	Sender    string         `json:"sender"`
	Body      string         `json:"body,omitempty"`
	Quote     *QuoteRef      `json:"quote,omitempty"`
	Reactions map[string]int `json:"reactions,omitempty"`
	ServerTS  int64          `json:"server_ts,omitempty"`
}

// OutgoingMessage is a message authored locally.
type OutgoingMessage struct {
	Body       string                     `json:"body,omitempty"`
	Quote      *QuoteRef                  `json:"quote,omitempty"`
	Reactions  map[string]int             `json:"reactions,omitempty"`
	Recipients map[string]*RecipientState `json:"recipients,omitempty"`
}

// CallRecord is a one-to-one call history entry.
type CallRecord struct {
	ReadTracking
	Direction string `json:"direction"` // incoming | outgoing
	Media     string `json:"media"`     // audio | video
	Outcome   string `json:"outcome"`   // answered | missed | declined
}

// GroupCallRecord is a group-call history entry.
type GroupCallRecord struct {
	ReadTracking
	Initiator string   `json:"initiator,omitempty"`
	Joined    []string `json:"joined,omitempty"`
	Ended     bool     `json:"ended,omitempty"`
}

// InfoEvent is a system notice shown inline in the thread.
type InfoEvent struct {
	ReadTracking
	InfoType string `json:"info_type"`
	Detail   string `json:"detail,omitempty"`
}

// ErrorEvent records a processing failure inline in the thread.
type ErrorEvent struct {
	ReadTracking
	ErrorType ErrorKind `json:"error_type"`
	Sender    string    `json:"sender,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// VerificationChange records a historical identity-verification change.
type VerificationChange struct {
	Contact string            `json:"contact"`
	State   VerificationState `json:"state"`
	// Local marks changes made on this device rather than synced ones.
	Local   bool   `json:"local,omitempty"`
	Counter uint64 `json:"counter"`
}

// DisappearingUpdate records a change to the thread's disappearing
// configuration. These events are never subject to the timer they carry.
type DisappearingUpdate struct {
	Config DisappearingMessagesConfiguration `json:"config"`
	Author string                            `json:"author,omitempty"`
}

// PaymentMessage anchors a payment in chat history. The monetary state
// lives in the associated PaymentModel.
type PaymentMessage struct {
	ReadTracking
	Direction PaymentDirection `json:"direction"`
	PaymentID string           `json:"payment_id"`
	Note      string           `json:"note,omitempty"`
}

// PaymentActivation is the non-monetary request/finished marker pair used
// to ask a counterpart to enable payments.
type PaymentActivation struct {
	// State is "requested" until the counterpart activates, then "finished".
	State     string `json:"state"`
	Requester string `json:"requester,omitempty"`
}

const (
	ActivationRequested = "requested"
	ActivationFinished  = "finished"
)

// UnknownProtocolVersion marks a message this client version cannot decode.
type UnknownProtocolVersion struct {
	RequiredVersion uint32 `json:"required_version"`
	Sender          string `json:"sender,omitempty"`
}

// ContactOffer is a prompt marker (add to contacts, share profile, block).
type ContactOffer struct {
	OfferType OfferKind `json:"offer_type"`
	Contact   string    `json:"contact"`
}

// Interaction is the polymorphic entity scoped to exactly one thread and
// ordered by (SortKey, TS). Exactly one variant payload is set, matching
// Kind; variant fields are only meaningful when their tag matches.
type Interaction struct {
	ID      string          `json:"id"`
	Thread  string          `json:"thread"`
	SortKey uint64          `json:"sort_key"`
	TS      int64           `json:"ts"`
	// ReceivedAt is when this client obtained the event; expiration
	// deadlines are computed from it.
	ReceivedAt int64 `json:"received_at,omitempty"`
	// Rev is the optimistic-concurrency revision, bumped on every update.
	Rev  uint64          `json:"rev"`
	Kind InteractionKind `json:"kind"`

	// ExpiresAt is the absolute expiration deadline (ns); zero means the
	// interaction never expires. ExpireVersion records the configuration
	// version the deadline was computed under and is never restamped.
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	ExpireVersion uint32 `json:"expire_version,omitempty"`

	Incoming           *IncomingMessage        `json:"incoming,omitempty"`
	Outgoing           *OutgoingMessage        `json:"outgoing,omitempty"`
	Call               *CallRecord             `json:"call,omitempty"`
	GroupCall          *GroupCallRecord        `json:"group_call,omitempty"`
	Info               *InfoEvent              `json:"info,omitempty"`
	Error              *ErrorEvent             `json:"error,omitempty"`
	Verification       *VerificationChange     `json:"verification,omitempty"`
	DisappearingChange *DisappearingUpdate     `json:"disappearing_change,omitempty"`
	Payment            *PaymentMessage         `json:"payment,omitempty"`
	Activation         *PaymentActivation      `json:"activation,omitempty"`
	UnknownProto       *UnknownProtocolVersion `json:"unknown_proto,omitempty"`
	Offer              *ContactOffer           `json:"offer,omitempty"`
	Quote              *QuoteRef               `json:"quote,omitempty"`
}

// payloads returns the variant pointers paired with their tags.
func (in *Interaction) payloads() map[InteractionKind]bool {
	set := map[InteractionKind]bool{}
	if in.Incoming != nil {
		set[KindIncoming] = true
	}
	if in.Outgoing != nil {
		set[KindOutgoing] = true
	}
	if in.Call != nil {
		set[KindCall] = true
	}
	if in.GroupCall != nil {
		set[KindGroupCall] = true
	}
	if in.Info != nil {
		set[KindInfo] = true
	}
	if in.Error != nil {
		set[KindError] = true
	}
	if in.Verification != nil {
		set[KindVerificationChange] = true
	}
	if in.DisappearingChange != nil {
		set[KindDisappearingUpdate] = true
	}
	if in.Payment != nil {
		set[KindPayment] = true
	}
	if in.Activation != nil {
		set[KindPaymentActivation] = true
	}
	if in.UnknownProto != nil {
		set[KindUnknownProtocol] = true
	}
	if in.Offer != nil {
		set[KindContactOffer] = true
	}
	if in.Quote != nil && in.Kind == KindQuote {
		set[KindQuote] = true
	}
	return set
}

// Validate enforces the exactly-one-variant invariant.
func (in *Interaction) Validate() error {
	if in.Thread == "" {
		return errs.Validation("interaction %s has no thread", in.ID)
	}
	set := in.payloads()
	if len(set) != 1 {
		return errs.Validation("interaction %s must carry exactly one variant payload, has %d", in.ID, len(set))
	}
	if !set[in.Kind] {
		return errs.Validation("interaction %s payload does not match kind %q", in.ID, string(in.Kind))
	}
	return nil
}

// Receipts returns the read-tracking state for variants that carry it.
func (in *Interaction) Receipts() (*ReadTracking, bool) {
	switch in.Kind {
	case KindIncoming:
		if in.Incoming != nil {
			return &in.Incoming.ReadTracking, true
		}
	case KindCall:
		if in.Call != nil {
			return &in.Call.ReadTracking, true
		}
	case KindGroupCall:
		if in.GroupCall != nil {
			return &in.GroupCall.ReadTracking, true
		}
	case KindInfo:
		if in.Info != nil {
			return &in.Info.ReadTracking, true
		}
	case KindError:
		if in.Error != nil {
			return &in.Error.ReadTracking, true
		}
	case KindPayment:
		if in.Payment != nil {
			return &in.Payment.ReadTracking, true
		}
	}
	return nil, false
}

// Expirable reports whether the variant is eligible for disappearing
// deadlines. Configuration-update events are explicitly excluded so a
// timer change never erases its own history entry.
func (in *Interaction) Expirable() bool {
	switch in.Kind {
	case KindIncoming, KindOutgoing, KindPayment:
		return true
	default:
		return false
	}
}

// PaymentID returns the associated payment model id for payment variants.
func (in *Interaction) PaymentID() (string, bool) {
	if in.Kind == KindPayment && in.Payment != nil && in.Payment.PaymentID != "" {
		return in.Payment.PaymentID, true
	}
	return "", false
}

// Expired is the pure expiration predicate shared by the lazy and eager
// sweep paths: an interaction is expired once its deadline has elapsed.
func Expired(now, deadline int64) bool {
	return deadline != 0 && now >= deadline
}
