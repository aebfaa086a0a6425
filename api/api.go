// Package api serves the management REST surface: read-only views over the
// store, a manual batch trigger, and health. It listens separately from the
// device WebSocket endpoint and is not exposed to devices.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/mux"

	"github.com/trustoracle/gateway/chain"
	"github.com/trustoracle/gateway/metrics"
	"github.com/trustoracle/gateway/session"
	"github.com/trustoracle/gateway/store"
	"github.com/trustoracle/gateway/submitter"
	"github.com/trustoracle/gateway/types"
)

// API is the management handler set.
type API struct {
	store     store.Store
	chain     chain.Gateway
	submitter *submitter.Submitter
	hub       *session.Hub
	metrics   *metrics.Metrics
	logger    log.Logger
	startedAt time.Time
}

// New wires the management API.
func New(s store.Store, g chain.Gateway, sub *submitter.Submitter, hub *session.Hub, m *metrics.Metrics, logger log.Logger) *API {
	return &API{
		store:     s,
		chain:     g,
		submitter: sub,
		hub:       hub,
		metrics:   m,
		logger:    logger.With("module", "api"),
		startedAt: time.Now(),
	}
}

// Router builds the management route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/devices", a.handleDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{id}", a.handleDevice).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{id}/submissions", a.handleDeviceSubmissions).Methods(http.MethodGet)
	r.HandleFunc("/api/pending", a.handlePending).Methods(http.MethodGet)
	r.HandleFunc("/api/pets", a.handlePets).Methods(http.MethodGet)
	r.HandleFunc("/api/balance", a.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/api/submit-batch", a.handleSubmitBatch).Methods(http.MethodPost)
	r.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", "err", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrUnknownDevice):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrChain), errors.Is(err, chain.ErrDisabled):
		status = http.StatusBadGateway
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(a.startedAt).Seconds()),
		"active_sessions": a.hub.Len(),
		"chain_enabled":   a.chain.Enabled(),
	})
}

func (a *API) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.store.Devices(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"count": len(devices), "devices": devices})
}

func (a *API) handleDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := a.store.Device(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, dev)
}

func (a *API) handleDeviceSubmissions(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if _, err := a.store.Device(r.Context(), deviceID); err != nil {
		a.writeError(w, err)
		return
	}
	subs, err := a.store.Submissions(r.Context(), deviceID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"count": len(subs), "submissions": subs})
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := a.store.ListPending(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"count": len(pending), "pending": pending})
}

func (a *API) handlePets(w http.ResponseWriter, r *http.Request) {
	pets, err := a.store.Pets(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]types.PetView, len(pets))
	for i, p := range pets {
		views[i] = types.NewPetView(*p)
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "pets": views})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := a.chain.GetBalance(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"balance": balance})
}

// handleSubmitBatch triggers a batch run synchronously and returns its
// summary. The submitter serializes concurrent runs internally.
func (a *API) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := a.submitter.Run(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, summary)
}
