package handler

import (
	"context"
	"net/http"

	"github.com/fieldlmis/stocksync/internal/sync/checkpoint"
	"github.com/fieldlmis/stocksync/internal/sync/service"
	"github.com/fieldlmis/stocksync/pkg/httputil"
	"github.com/fieldlmis/stocksync/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// SyncRunner starts sync runs
type SyncRunner interface {
	Start(ctx context.Context) (*service.Task, bool)
	Running() bool
}

// StateReader exposes the persisted sync state
type StateReader interface {
	State(ctx context.Context) (*checkpoint.SyncState, error)
}

// SyncHandler handles sync endpoints
type SyncHandler struct {
	sync   SyncRunner
	state  StateReader
	logger *logger.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(sync SyncRunner, state StateReader, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		sync:   sync,
		state:  state,
		logger: log,
	}
}

// RegisterRoutes mounts the sync endpoints on r
func (h *SyncHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sync", h.Trigger)
	r.Get("/sync/state", h.GetState)
}

// TriggerResponse is returned by Trigger
type TriggerResponse struct {
	Started bool   `json:"started"`
	RunID   string `json:"run_id,omitempty"`
}

// Trigger starts a sync run unless one is already in flight
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	task, started := h.sync.Start(r.Context())
	if started {
		h.logger.WithRequestID(httputil.GetRequestID(r.Context())).Info().
			Str("run_id", task.RunID).
			Msg("sync triggered")
	}

	httputil.Accepted(w, TriggerResponse{Started: started, RunID: task.RunID})
}

// StateResponse is returned by GetState
type StateResponse struct {
	*checkpoint.SyncState
	Running bool `json:"running"`
}

// GetState returns the stage flags, historical checkpoint and run status
func (h *SyncHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.State(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read sync state")
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, StateResponse{SyncState: state, Running: h.sync.Running()})
}
