package checkpoint

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fieldlmis/stocksync/pkg/config"
)

// Keys recognized by the store
const (
	KeyCatalogSynced            = "catalog_synced"
	KeyRecentMovementsSynced    = "recent_movements_synced"
	KeyRequisitionsSynced       = "requisitions_synced"
	KeyHistoricalSyncPending    = "historical_sync_pending"
	KeyHistoricalSyncEndTime    = "historical_sync_end_time"
	KeyHistoricalSyncMonthIndex = "historical_sync_month_index"
	KeyInventoryNeeded          = "inventory_needed"
	KeyConsumptionRefreshedAt   = "consumption_refreshed_at"
)

// DataProbe reports whether a repository already holds any rows
type DataProbe interface {
	HasAnyData(ctx context.Context) (bool, error)
}

// SyncState is a snapshot of every flag and the historical checkpoint
type SyncState struct {
	CatalogSynced            bool       `json:"catalog_synced"`
	RecentMovementsSynced    bool       `json:"recent_movements_synced"`
	RequisitionsSynced       bool       `json:"requisitions_synced"`
	HistoricalSyncPending    bool       `json:"historical_sync_pending"`
	HistoricalSyncEndTime    *time.Time `json:"historical_sync_end_time,omitempty"`
	HistoricalSyncMonthIndex int        `json:"historical_sync_month_index"`
	InventoryNeeded          bool       `json:"inventory_needed"`
	ConsumptionRefreshedAt   *time.Time `json:"consumption_refreshed_at,omitempty"`
}

// Store reads and writes sync state over a Backend.
//
// The recent-movements and requisitions flags fall back to whether the
// matching repository holds data when they were never written, so a device
// restored with data is not synced from scratch.
type Store struct {
	backend      Backend
	stocks       DataProbe
	requisitions DataProbe
}

// NewStore creates a store. Either probe may be nil, in which case the
// corresponding unset flag reads as false.
func NewStore(backend Backend, stocks, requisitions DataProbe) *Store {
	return &Store{backend: backend, stocks: stocks, requisitions: requisitions}
}

// CatalogSynced reports whether the catalog stage completed
func (s *Store) CatalogSynced(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyCatalogSynced, nil, false)
}

// SetCatalogSynced records the catalog stage outcome
func (s *Store) SetCatalogSynced(ctx context.Context, v bool) error {
	return s.setBool(ctx, KeyCatalogSynced, v)
}

// RecentMovementsSynced reports whether the recent-movements stage completed
func (s *Store) RecentMovementsSynced(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyRecentMovementsSynced, s.stocks, false)
}

// SetRecentMovementsSynced records the recent-movements stage outcome
func (s *Store) SetRecentMovementsSynced(ctx context.Context, v bool) error {
	return s.setBool(ctx, KeyRecentMovementsSynced, v)
}

// RequisitionsSynced reports whether the requisition stage completed
func (s *Store) RequisitionsSynced(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyRequisitionsSynced, s.requisitions, false)
}

// SetRequisitionsSynced records the requisition stage outcome
func (s *Store) SetRequisitionsSynced(ctx context.Context, v bool) error {
	return s.setBool(ctx, KeyRequisitionsSynced, v)
}

// HistoricalSyncPending reports whether the historical walk still has to run
func (s *Store) HistoricalSyncPending(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyHistoricalSyncPending, nil, false)
}

// SetHistoricalSyncPending flags or clears the historical walk
func (s *Store) SetHistoricalSyncPending(ctx context.Context, v bool) error {
	return s.setBool(ctx, KeyHistoricalSyncPending, v)
}

// InventoryNeeded reports whether the physical inventory prompt should show.
// It defaults to true.
func (s *Store) InventoryNeeded(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyInventoryNeeded, nil, true)
}

// SetInventoryNeeded records the inventory prompt flag
func (s *Store) SetInventoryNeeded(ctx context.Context, v bool) error {
	return s.setBool(ctx, KeyInventoryNeeded, v)
}

// HistoricalCheckpoint returns the reference end time and the month the walk
// resumes at. ok is false when no end time was ever saved; the month index
// then reads as 1.
func (s *Store) HistoricalCheckpoint(ctx context.Context) (end time.Time, monthIndex int, ok bool, err error) {
	end, ok, err = s.getTime(ctx, KeyHistoricalSyncEndTime)
	if err != nil {
		return time.Time{}, 0, false, err
	}

	monthIndex = 1
	raw, found, err := s.backend.Get(ctx, KeyHistoricalSyncMonthIndex)
	if err != nil {
		return time.Time{}, 0, false, err
	}
	if found {
		monthIndex, err = strconv.Atoi(raw)
		if err != nil {
			return time.Time{}, 0, false, fmt.Errorf("parse %s: %w", KeyHistoricalSyncMonthIndex, err)
		}
	}
	if monthIndex < 1 || monthIndex > config.MaxHistoricalMonths {
		monthIndex = 1
	}
	return end, monthIndex, ok, nil
}

// SaveHistoricalCheckpoint stores where the historical walk resumes
func (s *Store) SaveHistoricalCheckpoint(ctx context.Context, end time.Time, monthIndex int) error {
	if monthIndex < 1 || monthIndex > config.MaxHistoricalMonths {
		return fmt.Errorf("historical month index %d outside 1..%d", monthIndex, config.MaxHistoricalMonths)
	}
	if err := s.setTime(ctx, KeyHistoricalSyncEndTime, end); err != nil {
		return err
	}
	return s.backend.Set(ctx, KeyHistoricalSyncMonthIndex, strconv.Itoa(monthIndex))
}

// LastConsumptionRefresh returns when AMC was last recomputed
func (s *Store) LastConsumptionRefresh(ctx context.Context) (time.Time, bool, error) {
	return s.getTime(ctx, KeyConsumptionRefreshedAt)
}

// MarkConsumptionRefreshed records an AMC refresh at the given time
func (s *Store) MarkConsumptionRefreshed(ctx context.Context, at time.Time) error {
	return s.setTime(ctx, KeyConsumptionRefreshedAt, at)
}

// State reads every key into one snapshot
func (s *Store) State(ctx context.Context) (*SyncState, error) {
	var st SyncState
	var err error

	if st.CatalogSynced, err = s.CatalogSynced(ctx); err != nil {
		return nil, err
	}
	if st.RecentMovementsSynced, err = s.RecentMovementsSynced(ctx); err != nil {
		return nil, err
	}
	if st.RequisitionsSynced, err = s.RequisitionsSynced(ctx); err != nil {
		return nil, err
	}
	if st.HistoricalSyncPending, err = s.HistoricalSyncPending(ctx); err != nil {
		return nil, err
	}
	if st.InventoryNeeded, err = s.InventoryNeeded(ctx); err != nil {
		return nil, err
	}

	end, index, ok, err := s.HistoricalCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		st.HistoricalSyncEndTime = &end
	}
	st.HistoricalSyncMonthIndex = index

	refreshed, ok, err := s.LastConsumptionRefresh(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		st.ConsumptionRefreshedAt = &refreshed
	}
	return &st, nil
}

func (s *Store) getBool(ctx context.Context, key string, probe DataProbe, def bool) (bool, error) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		if probe == nil {
			return def, nil
		}
		has, err := probe.HasAnyData(ctx)
		if err != nil {
			return false, fmt.Errorf("default %s from data: %w", key, err)
		}
		return has, nil
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) setBool(ctx context.Context, key string, v bool) error {
	return s.backend.Set(ctx, key, strconv.FormatBool(v))
}

// Timestamps are stored as unix milliseconds.
func (s *Store) getTime(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (s *Store) setTime(ctx context.Context, key string, t time.Time) error {
	return s.backend.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10))
}
