package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatkit/pkg/ingest"
	"chatkit/pkg/interactions"
	"chatkit/pkg/logger"
	"chatkit/pkg/models"
	"chatkit/pkg/utils"
)

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- threads ---

func (s *server) resolveThread(w http.ResponseWriter, r *http.Request) {
	var tc ingest.ThreadContext
	if err := decode(r, &tc); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	var (
		th  *models.Thread
		err error
	)
	switch tc.Kind {
	case models.ThreadDirect:
		th, err = s.deps.Registry.ResolveDirect(tc.Contact)
	case models.ThreadGroup:
		th, err = s.deps.Registry.ResolveGroup(tc.GroupID, tc.Participants)
	case models.ThreadStory:
		th, err = s.deps.Registry.ResolveStory(tc.StoryID, tc.Name)
	default:
		jsonError(w, http.StatusBadRequest, "unknown thread kind")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, th)
}

func (s *server) getThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.deps.Registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, th)
}

func (s *server) deleteThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Registry.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *server) setThreadFlags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted    bool `json:"muted"`
		Archived bool `json:"archived"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.deps.Registry.SetFlags(id, req.Muted, req.Archived); err != nil {
		writeErr(w, err)
		return
	}
	th, err := s.deps.Registry.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, th)
}

// setDisappearing applies a local timer change: the version is bumped
// past the current one and a history interaction records the change.
func (s *server) setDisappearing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled      bool   `json:"enabled"`
		TimerSeconds uint32 `json:"timer_seconds"`
		Author       string `json:"author"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := mux.Vars(r)["id"]
	th, err := s.deps.Registry.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	cfg := models.DisappearingMessagesConfiguration{
		Enabled:      req.Enabled,
		TimerSeconds: req.TimerSeconds,
		Version:      th.Disappearing.Version + 1,
	}
	winner, applied, err := s.deps.Registry.ApplyDisappearing(id, cfg, utils.NowNS())
	if err != nil {
		writeErr(w, err)
		return
	}
	if applied {
		if _, err := s.deps.Interactions.Append(id, &models.Interaction{
			Kind:               models.KindDisappearingUpdate,
			DisappearingChange: &models.DisappearingUpdate{Config: winner, Author: req.Author},
		}); err != nil {
			writeErr(w, err)
			return
		}
	}
	_ = writeJSON(w, http.StatusOK, winner)
}

func (s *server) listInteractions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	// expired interactions must never surface in a read
	if _, err := s.deps.Expiry.SweepThread(id, utils.NowNS()); err != nil {
		logger.Error("lazy_sweep_failed", "thread", id, "error", err)
	}
	opts := interactions.ListOptions{}
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		opts.AfterSortKey = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	list, err := s.deps.Interactions.List(id, opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, struct {
		Thread       string               `json:"thread"`
		Interactions []models.Interaction `json:"interactions"`
	}{Thread: id, Interactions: list})
}

// sendMessage appends a locally authored outgoing message.
func (s *server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body  string           `json:"body"`
		Quote *models.QuoteRef `json:"quote,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := mux.Vars(r)["id"]
	th, err := s.deps.Registry.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	in := &models.Interaction{
		Kind:     models.KindOutgoing,
		Outgoing: &models.OutgoingMessage{Body: req.Body, Quote: req.Quote},
	}
	s.deps.Expiry.Stamp(th, in)
	if _, err := s.deps.Interactions.Append(id, in); err != nil {
		writeErr(w, err)
		return
	}
	s.deps.Expiry.Track(in)
	_ = writeJSON(w, http.StatusOK, in)
}

// --- interactions ---

func (s *server) getInteraction(w http.ResponseWriter, r *http.Request) {
	in, err := s.deps.Interactions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, in)
}

func (s *server) removeInteraction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Interactions.Remove(id); err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

func (s *server) react(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emoji  string `json:"emoji"`
		Remove bool   `json:"remove,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	in, err := s.deps.Interactions.React(mux.Vars(r)["id"], req.Emoji, req.Remove)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, in)
}

func tsOrNow(ts int64) int64 {
	if ts == 0 {
		return utils.NowNS()
	}
	return ts
}

func (s *server) markRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TS int64 `json:"ts"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Receipts.MarkRead(mux.Vars(r)["id"], tsOrNow(req.TS)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) markViewed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TS int64 `json:"ts"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Receipts.MarkViewed(mux.Vars(r)["id"], tsOrNow(req.TS)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) markDelivered(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		TS        int64  `json:"ts"`
	}
	if err := decode(r, &req); err != nil || req.Recipient == "" {
		jsonError(w, http.StatusBadRequest, "recipient required")
		return
	}
	if err := s.deps.Receipts.MarkDelivered(mux.Vars(r)["id"], req.Recipient, tsOrNow(req.TS)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) finishActivation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Payments.FinishActivation(mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- payments ---

func (s *server) createPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread    string `json:"thread"`
		Amount    uint64 `json:"amount"`
		Recipient string `json:"recipient"`
		Note      string `json:"note,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	pm, err := s.deps.Payments.CreateOutgoing(req.Thread, req.Amount, req.Recipient, req.Note)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusCreated, pm)
}

func (s *server) getPayment(w http.ResponseWriter, r *http.Request) {
	pm, err := s.deps.Payments.Get(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, pm)
}

func (s *server) submitPayment(w http.ResponseWriter, r *http.Request) {
	pm, err := s.deps.Payments.Submit(r.Context(), mux.Vars(r)["id"])
	if err != nil && pm == nil {
		writeErr(w, err)
		return
	}
	// a submission failure still settled the model as failed
	_ = writeJSON(w, http.StatusOK, pm)
}

func (s *server) archivePayment(w http.ResponseWriter, r *http.Request) {
	pm, err := s.deps.Payments.Archive(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, pm)
}

func (s *server) requestActivation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requester string `json:"requester"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := s.deps.Payments.RequestActivation(mux.Vars(r)["id"], req.Requester)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusCreated, map[string]string{"interaction": id})
}

// --- verification ---

func (s *server) getVerification(w http.ResponseWriter, r *http.Request) {
	cv, err := s.deps.Receipts.Verification(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, cv)
}

func (s *server) setVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread  string                   `json:"thread"`
		State   models.VerificationState `json:"state"`
		Counter uint64                   `json:"counter"`
		Local   bool                     `json:"local"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	contact := mux.Vars(r)["id"]
	if err := s.deps.Receipts.SetVerification(req.Thread, contact, req.State, req.Counter, req.Local); err != nil {
		writeErr(w, err)
		return
	}
	cv, err := s.deps.Receipts.Verification(contact)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, cv)
}

// --- inbound events ---

func (s *server) eventMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread     ingest.ThreadContext  `json:"thread"`
		Message    ingest.MessagePayload `json:"message"`
		ReceivedAt int64                 `json:"received_at,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Ingest.DeliverMessage(req.Thread, req.Message, req.ReceivedAt); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) eventCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread     ingest.ThreadContext    `json:"thread"`
		Call       *models.CallRecord      `json:"call,omitempty"`
		GroupCall  *models.GroupCallRecord `json:"group_call,omitempty"`
		ReceivedAt int64                   `json:"received_at,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	var err error
	switch {
	case req.Call != nil:
		err = s.deps.Ingest.DeliverCallEvent(req.Thread, *req.Call, req.ReceivedAt)
	case req.GroupCall != nil:
		err = s.deps.Ingest.DeliverGroupCallEvent(req.Thread, *req.GroupCall, req.ReceivedAt)
	default:
		jsonError(w, http.StatusBadRequest, "call or group_call payload required")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) eventPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread     ingest.ThreadContext       `json:"thread"`
		Payment    ingest.PaymentNotification `json:"payment"`
		ReceivedAt int64                      `json:"received_at,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Ingest.DeliverPaymentNotification(req.Thread, req.Payment, req.ReceivedAt); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) eventError(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread     ingest.ThreadContext `json:"thread"`
		Error      models.ErrorEvent    `json:"error"`
		ReceivedAt int64                `json:"received_at,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Ingest.DeliverError(req.Thread, req.Error, req.ReceivedAt); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) eventUnknownProtocol(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread     ingest.ThreadContext          `json:"thread"`
		Protocol   models.UnknownProtocolVersion `json:"protocol"`
		ReceivedAt int64                         `json:"received_at,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Ingest.DeliverUnknownProtocol(req.Thread, req.Protocol, req.ReceivedAt); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) eventOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread     ingest.ThreadContext `json:"thread"`
		Offer      models.ContactOffer  `json:"offer"`
		ReceivedAt int64                `json:"received_at,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Ingest.DeliverContactOffer(req.Thread, req.Offer, req.ReceivedAt); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) eventDisappearing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Thread     ingest.ThreadContext       `json:"thread"`
		Update     ingest.DisappearingPayload `json:"update"`
		ReceivedAt int64                      `json:"received_at,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.deps.Ingest.DeliverDisappearingUpdate(req.Thread, req.Update, req.ReceivedAt); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
