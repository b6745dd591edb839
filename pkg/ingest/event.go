// Package ingest is the inbound boundary: transport-decoded events enter
// here, are validated structurally, and flow through a bounded queue into
// a worker pool that applies them to the conversational stores. Malformed
// events are dropped with a logged diagnostic and never reach storage.
package ingest

import (
	"chatkit/pkg/errs"
	"chatkit/pkg/models"
)

// EventType tags an inbound event.
type EventType string

const (
	EvtMessage         EventType = "message"
	EvtCall            EventType = "call"
	EvtGroupCall       EventType = "group_call"
	EvtPayment         EventType = "payment"
	EvtDisappearing    EventType = "disappearing_update"
	EvtError           EventType = "error"
	EvtUnknownProtocol EventType = "unknown_protocol"
	EvtContactOffer    EventType = "contact_offer"
)

// ThreadContext carries the conversation identity an event belongs to.
// The registry resolves it to a thread, creating one when absent.
type ThreadContext struct {
	Kind         models.ThreadKind `json:"kind"`
	Contact      string            `json:"contact,omitempty"`
	GroupID      string            `json:"group_id,omitempty"`
	Participants []string          `json:"participants,omitempty"`
	StoryID      string            `json:"story_id,omitempty"`
	Name         string            `json:"name,omitempty"`
}

func (tc ThreadContext) validate() error {
	switch tc.Kind {
	case models.ThreadDirect:
		if tc.Contact == "" {
			return errs.Validation("direct thread context requires a contact")
		}
	case models.ThreadGroup:
		if tc.GroupID == "" {
			return errs.Validation("group thread context requires a group id")
		}
	case models.ThreadStory:
		if tc.StoryID == "" {
			return errs.Validation("story thread context requires a distribution id")
		}
	default:
		return errs.Validation("unknown thread kind %q", string(tc.Kind))
	}
	return nil
}

// MessagePayload is the decoded body of an inbound message.
type MessagePayload struct {
	Sender   string           `json:"sender"`
	Body     string           `json:"body,omitempty"`
	Quote    *models.QuoteRef `json:"quote,omitempty"`
	ServerTS int64            `json:"server_ts,omitempty"`
}

// PaymentNotification is a ledger event observed for this client.
type PaymentNotification struct {
	LedgerTxID string                  `json:"ledger_tx_id"`
	Amount     uint64                  `json:"amount"`
	Direction  models.PaymentDirection `json:"direction"`
	Sender     string                  `json:"sender,omitempty"`
}

// DisappearingPayload is a remote disappearing-configuration update.
type DisappearingPayload struct {
	Config models.DisappearingMessagesConfiguration `json:"config"`
	Author string                                   `json:"author,omitempty"`
}

// Event is one unit of inbound work. Exactly one payload field matching
// Type is set; ReceivedAt is the local receive timestamp in UTC ns.
type Event struct {
	Type       EventType
	Thread     ThreadContext
	ReceivedAt int64

	Message      *MessagePayload
	Call         *models.CallRecord
	GroupCall    *models.GroupCallRecord
	Payment      *PaymentNotification
	Disappearing *DisappearingPayload
	Error        *models.ErrorEvent
	Unknown      *models.UnknownProtocolVersion
	Offer        *models.ContactOffer
}
