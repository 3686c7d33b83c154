package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	stockservice "github.com/fieldlmis/stocksync/internal/stock/service"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/httputil"
	"github.com/fieldlmis/stocksync/pkg/logger"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistory = 6
	maxHistory     = 24
)

// ConsumptionReader computes and reads consumption figures
type ConsumptionReader interface {
	RefreshAll(ctx context.Context) (*stockservice.RefreshSummary, error)
	CardConsumption(ctx context.Context, stockCardID int64, historyLimit int) (*stockservice.CardConsumption, error)
}

// ConsumptionHandler handles consumption endpoints
type ConsumptionHandler struct {
	consumption ConsumptionReader
	logger      *logger.Logger
}

// NewConsumptionHandler creates a new consumption handler
func NewConsumptionHandler(consumption ConsumptionReader, log *logger.Logger) *ConsumptionHandler {
	return &ConsumptionHandler{
		consumption: consumption,
		logger:      log,
	}
}

// RegisterRoutes mounts the consumption endpoints on r
func (h *ConsumptionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/consumption/refresh", h.Refresh)
	r.Get("/stock-cards/{id}/consumption", h.GetCard)
}

// RefreshResponse is returned by Refresh
type RefreshResponse struct {
	StockCards  int       `json:"stock_cards"`
	Unset       int       `json:"unset"`
	PeriodBegin time.Time `json:"period_begin"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Refresh recomputes AMC for every stock card
func (h *ConsumptionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	summary, err := h.consumption.RefreshAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("consumption refresh failed")
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, RefreshResponse{
		StockCards:  summary.StockCards,
		Unset:       summary.Unset,
		PeriodBegin: summary.Period.Begin,
		PeriodEnd:   summary.Period.End,
	})
}

// GetCard returns one card's AMC, stock level and recent snapshots
func (h *ConsumptionHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		httputil.Error(w, apperrors.BadRequest("invalid stock card id").WithDetails(map[string]string{"id": rawID}))
		return
	}

	history := defaultHistory
	if raw := r.URL.Query().Get("history"); raw != "" {
		history, err = strconv.Atoi(raw)
		if err != nil || history < 0 || history > maxHistory {
			httputil.Error(w, apperrors.BadRequest("history must be between 0 and 24"))
			return
		}
	}

	view, err := h.consumption.CardConsumption(r.Context(), id, history)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrStockCardNotFound) {
			httputil.Error(w, apperrors.NotFound("stock card"))
			return
		}
		h.logger.Error().Err(err).Int64("stock_card_id", id).Msg("failed to load consumption")
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, view)
}
