// Package api is the local query and mutation surface: REST endpoints
// for threads, interactions, receipts and payments, plus a websocket
// stream of per-thread changes.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatkit/pkg/config"
	"chatkit/pkg/ingest"
	"chatkit/pkg/interactions"
	"chatkit/pkg/models"
	"chatkit/pkg/payments"
	"chatkit/pkg/receipts"
	"chatkit/pkg/threads"
)

// Expiry is the scheduler surface the API needs: stamping deadlines on
// locally sent messages and the lazy sweep before reads.
type Expiry interface {
	Stamp(*models.Thread, *models.Interaction)
	Track(*models.Interaction)
	SweepThread(threadID string, now int64) (int, error)
}

// Deps carries the wired components the handlers operate on.
type Deps struct {
	Registry     *threads.Registry
	Interactions *interactions.Store
	Payments     *payments.Manager
	Receipts     *receipts.Tracker
	Ingest       *ingest.Service
	Expiry       Expiry
}

// New builds the HTTP handler tree.
func New(deps Deps, cfg config.APIConfig) http.Handler {
	s := &server{deps: deps}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"chatkit"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(rateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))

	v1.HandleFunc("/threads/resolve", s.resolveThread).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{id}", s.getThread).Methods(http.MethodGet)
	v1.HandleFunc("/threads/{id}", s.deleteThread).Methods(http.MethodDelete)
	v1.HandleFunc("/threads/{id}/flags", s.setThreadFlags).Methods(http.MethodPatch)
	v1.HandleFunc("/threads/{id}/disappearing", s.setDisappearing).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{id}/interactions", s.listInteractions).Methods(http.MethodGet)
	v1.HandleFunc("/threads/{id}/messages", s.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{id}/watch", s.watchThread).Methods(http.MethodGet)

	v1.HandleFunc("/interactions/{id}", s.getInteraction).Methods(http.MethodGet)
	v1.HandleFunc("/interactions/{id}", s.removeInteraction).Methods(http.MethodDelete)
	v1.HandleFunc("/interactions/{id}/reactions", s.react).Methods(http.MethodPost)
	v1.HandleFunc("/interactions/{id}/read", s.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/interactions/{id}/viewed", s.markViewed).Methods(http.MethodPost)
	v1.HandleFunc("/interactions/{id}/delivered", s.markDelivered).Methods(http.MethodPost)
	v1.HandleFunc("/interactions/{id}/activation-finish", s.finishActivation).Methods(http.MethodPost)

	v1.HandleFunc("/payments", s.createPayment).Methods(http.MethodPost)
	v1.HandleFunc("/payments/{id}", s.getPayment).Methods(http.MethodGet)
	v1.HandleFunc("/payments/{id}/submit", s.submitPayment).Methods(http.MethodPost)
	v1.HandleFunc("/payments/{id}/archive", s.archivePayment).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{id}/payment-activation", s.requestActivation).Methods(http.MethodPost)

	v1.HandleFunc("/contacts/{id}/verification", s.getVerification).Methods(http.MethodGet)
	v1.HandleFunc("/contacts/{id}/verification", s.setVerification).Methods(http.MethodPost)

	v1.HandleFunc("/events/message", s.eventMessage).Methods(http.MethodPost)
	v1.HandleFunc("/events/call", s.eventCall).Methods(http.MethodPost)
	v1.HandleFunc("/events/payment", s.eventPayment).Methods(http.MethodPost)
	v1.HandleFunc("/events/disappearing", s.eventDisappearing).Methods(http.MethodPost)
	v1.HandleFunc("/events/error", s.eventError).Methods(http.MethodPost)
	v1.HandleFunc("/events/unknown-protocol", s.eventUnknownProtocol).Methods(http.MethodPost)
	v1.HandleFunc("/events/offer", s.eventOffer).Methods(http.MethodPost)

	return r
}

type server struct {
	deps Deps
}
