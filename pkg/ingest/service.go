package ingest

import (
	"context"
	"sync"

	"chatkit/pkg/errs"
	"chatkit/pkg/interactions"
	"chatkit/pkg/logger"
	"chatkit/pkg/models"
	"chatkit/pkg/payments"
	"chatkit/pkg/threads"
	"chatkit/pkg/utils"
)

// Expirer stamps disappearing deadlines on new interactions and tracks
// them for the eager sweep. Implemented by the expiry scheduler.
type Expirer interface {
	Stamp(*models.Thread, *models.Interaction)
	Track(*models.Interaction)
}

// Options tunes the ingest pipeline.
type Options struct {
	// Workers is the number of concurrent apply workers.
	Workers int
	// QueueCapacity bounds the in-memory event queue.
	QueueCapacity int
	// MaxPayloadBytes caps the message body size accepted at delivery.
	MaxPayloadBytes int64
}

// Service validates inbound events and applies them through the worker
// pool. Ordering within a thread comes from sort-key allocation at append
// time, not from queue position, so workers can run concurrently.
type Service struct {
	reg  *threads.Registry
	ints *interactions.Store
	pay  *payments.Manager
	exp  Expirer

	q    *Queue
	opts Options

	wg sync.WaitGroup
}

// NewService wires the ingest pipeline. exp may be nil when disappearing
// messages are not enforced.
func NewService(reg *threads.Registry, ints *interactions.Store, pay *payments.Manager, exp Expirer, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = 256 * 1024
	}
	return &Service{
		reg:  reg,
		ints: ints,
		pay:  pay,
		exp:  exp,
		q:    NewQueue(opts.QueueCapacity),
		opts: opts,
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	logger.Info("ingest_started", "workers", s.opts.Workers, "queue_capacity", s.q.capacity)
}

// Wait blocks until all workers have exited.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.q.Out():
			queueDepth.Set(float64(s.q.Depth()))
			if err := s.apply(ctx, e); err != nil {
				applyFailTotal.WithLabelValues(string(e.Type)).Inc()
				logger.Error("ingest_apply_failed", "type", string(e.Type), "error", err)
			}
		}
	}
}

func (s *Service) enqueue(e *Event) error {
	if e.ReceivedAt == 0 {
		e.ReceivedAt = utils.NowNS()
	}
	if err := e.Thread.validate(); err != nil {
		rejectedTotal.WithLabelValues(string(e.Type)).Inc()
		logger.Warn("ingest_rejected", "type", string(e.Type), "error", err)
		return err
	}
	if err := s.q.TryEnqueue(e); err != nil {
		logger.Warn("ingest_queue_full", "type", string(e.Type))
		return err
	}
	eventsTotal.WithLabelValues(string(e.Type)).Inc()
	return nil
}

// DeliverMessage accepts an inbound message for the given conversation.
func (s *Service) DeliverMessage(tc ThreadContext, msg MessagePayload, receivedAt int64) error {
	if msg.Sender == "" {
		rejectedTotal.WithLabelValues(string(EvtMessage)).Inc()
		return errs.Validation("inbound message requires a sender")
	}
	if int64(len(msg.Body)) > s.opts.MaxPayloadBytes {
		rejectedTotal.WithLabelValues(string(EvtMessage)).Inc()
		return errs.Validation("message body exceeds %d bytes", s.opts.MaxPayloadBytes)
	}
	return s.enqueue(&Event{Type: EvtMessage, Thread: tc, ReceivedAt: receivedAt, Message: &msg})
}

// DeliverCallEvent records a one-to-one call history entry.
func (s *Service) DeliverCallEvent(tc ThreadContext, call models.CallRecord, receivedAt int64) error {
	if call.Direction == "" || call.Outcome == "" {
		rejectedTotal.WithLabelValues(string(EvtCall)).Inc()
		return errs.Validation("call event requires direction and outcome")
	}
	return s.enqueue(&Event{Type: EvtCall, Thread: tc, ReceivedAt: receivedAt, Call: &call})
}

// DeliverGroupCallEvent records a group-call history entry.
func (s *Service) DeliverGroupCallEvent(tc ThreadContext, call models.GroupCallRecord, receivedAt int64) error {
	return s.enqueue(&Event{Type: EvtGroupCall, Thread: tc, ReceivedAt: receivedAt, GroupCall: &call})
}

// DeliverPaymentNotification accepts a ledger event observed by this
// client. Incoming transfers are recorded in the conversation; outgoing
// ones settle the matching submitted payment.
func (s *Service) DeliverPaymentNotification(tc ThreadContext, n PaymentNotification, receivedAt int64) error {
	if n.LedgerTxID == "" {
		rejectedTotal.WithLabelValues(string(EvtPayment)).Inc()
		return errs.Validation("payment notification requires a ledger transaction id")
	}
	if n.Direction == models.PaymentIncoming && n.Amount == 0 {
		rejectedTotal.WithLabelValues(string(EvtPayment)).Inc()
		return errs.Validation("incoming payment notification requires a positive amount")
	}
	return s.enqueue(&Event{Type: EvtPayment, Thread: tc, ReceivedAt: receivedAt, Payment: &n})
}

// DeliverDisappearingUpdate applies a remote timer-configuration change.
func (s *Service) DeliverDisappearingUpdate(tc ThreadContext, upd DisappearingPayload, receivedAt int64) error {
	return s.enqueue(&Event{Type: EvtDisappearing, Thread: tc, ReceivedAt: receivedAt, Disappearing: &upd})
}

// DeliverError records a processing-failure placeholder in the thread.
func (s *Service) DeliverError(tc ThreadContext, ev models.ErrorEvent, receivedAt int64) error {
	if ev.ErrorType == "" {
		ev.ErrorType = models.ErrorGeneric
	}
	return s.enqueue(&Event{Type: EvtError, Thread: tc, ReceivedAt: receivedAt, Error: &ev})
}

// DeliverUnknownProtocol records a message this client cannot decode yet.
func (s *Service) DeliverUnknownProtocol(tc ThreadContext, ev models.UnknownProtocolVersion, receivedAt int64) error {
	if ev.RequiredVersion == 0 {
		rejectedTotal.WithLabelValues(string(EvtUnknownProtocol)).Inc()
		return errs.Validation("unknown-protocol event requires the required version")
	}
	return s.enqueue(&Event{Type: EvtUnknownProtocol, Thread: tc, ReceivedAt: receivedAt, Unknown: &ev})
}

// DeliverContactOffer records a contact prompt marker in the thread.
func (s *Service) DeliverContactOffer(tc ThreadContext, offer models.ContactOffer, receivedAt int64) error {
	if offer.OfferType == "" || offer.Contact == "" {
		rejectedTotal.WithLabelValues(string(EvtContactOffer)).Inc()
		return errs.Validation("contact offer requires a type and contact")
	}
	return s.enqueue(&Event{Type: EvtContactOffer, Thread: tc, ReceivedAt: receivedAt, Offer: &offer})
}

func (s *Service) resolve(tc ThreadContext) (*models.Thread, error) {
	switch tc.Kind {
	case models.ThreadDirect:
		return s.reg.ResolveDirect(tc.Contact)
	case models.ThreadGroup:
		return s.reg.ResolveGroup(tc.GroupID, tc.Participants)
	case models.ThreadStory:
		return s.reg.ResolveStory(tc.StoryID, tc.Name)
	}
	return nil, errs.Validation("unknown thread kind %q", string(tc.Kind))
}

// apply materializes one event against the stores.
func (s *Service) apply(ctx context.Context, e *Event) error {
	th, err := s.resolve(e.Thread)
	if err != nil {
		return err
	}

	switch e.Type {
	case EvtPayment:
		if e.Payment.Direction == models.PaymentOutgoing {
			// settlement of a payment this client submitted earlier
			_, err := s.pay.ApplyConfirmation(payments.Confirmation{
				LedgerTxID: e.Payment.LedgerTxID,
				Status:     models.PaymentConfirmed,
			})
			return err
		}
		_, err := s.pay.ReceiveIncoming(th.ID, e.Payment.LedgerTxID, e.Payment.Amount, e.Payment.Sender)
		return err

	case EvtDisappearing:
		winner, applied, err := s.reg.ApplyDisappearing(th.ID, e.Disappearing.Config, e.ReceivedAt)
		if err != nil {
			return err
		}
		if !applied {
			logger.Debug("disappearing_update_superseded", "thread", th.ID, "version", e.Disappearing.Config.Version, "winner_version", winner.Version)
			return nil
		}
		// history interaction; never subject to the timer it carries
		_, err = s.ints.Append(th.ID, &models.Interaction{
			Kind:       models.KindDisappearingUpdate,
			ReceivedAt: e.ReceivedAt,
			DisappearingChange: &models.DisappearingUpdate{
				Config: winner,
				Author: e.Disappearing.Author,
			},
		})
		return err
	}

	in := &models.Interaction{ReceivedAt: e.ReceivedAt}
	switch e.Type {
	case EvtMessage:
		in.Kind = models.KindIncoming
		in.Incoming = &models.IncomingMessage{
			Sender:   e.Message.Sender,
			Body:     e.Message.Body,
			Quote:    e.Message.Quote,
			ServerTS: e.Message.ServerTS,
		}
	case EvtCall:
		in.Kind = models.KindCall
		in.Call = e.Call
	case EvtGroupCall:
		in.Kind = models.KindGroupCall
		in.GroupCall = e.GroupCall
	case EvtError:
		in.Kind = models.KindError
		in.Error = e.Error
	case EvtUnknownProtocol:
		in.Kind = models.KindUnknownProtocol
		in.UnknownProto = e.Unknown
	case EvtContactOffer:
		in.Kind = models.KindContactOffer
		in.Offer = e.Offer
	default:
		return errs.Validation("unknown event type %q", string(e.Type))
	}

	if s.exp != nil {
		s.exp.Stamp(th, in)
	}
	if _, err := s.ints.Append(th.ID, in); err != nil {
		return err
	}
	if s.exp != nil {
		s.exp.Track(in)
	}
	return nil
}
