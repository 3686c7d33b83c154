package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Sync pipeline events
	EventSyncStageStarted         = "sync.stage.started"
	EventSyncStageCompleted       = "sync.stage.completed"
	EventSyncStageFailed          = "sync.stage.failed"
	EventSyncRunCompleted         = "sync.run.completed"
	EventSyncHistoricalCheckpoint = "sync.historical.checkpointed"
	EventSyncLotBatchRejected     = "sync.lots.rejected"

	// Consumption events
	EventAMCRefreshed = "stock.amc.refreshed"

	// Commands accepted by the sync service
	CommandSyncRequested = "sync.requested"
)

// Exchange names
const (
	ExchangeSyncEvents = "sync.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// SyncStageEvent is published when a stage starts, completes or fails
type SyncStageEvent struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Progress  string `json:"progress,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Fatal     bool   `json:"fatal,omitempty"`
}

// SyncRunCompletedEvent closes a run
type SyncRunCompletedEvent struct {
	RunID      string    `json:"run_id"`
	Success    bool      `json:"success"`
	FailedAt   string    `json:"failed_at,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// HistoricalCheckpointEvent records where a failed historical walk will resume
type HistoricalCheckpointEvent struct {
	RunID      string    `json:"run_id"`
	EndTime    time.Time `json:"end_time"`
	MonthIndex int       `json:"month_index"`
	Error      string    `json:"error"`
}

// LotBatchRejectedEvent reports lot movements the ledger refused; their
// stock movements were stored regardless
type LotBatchRejectedEvent struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Items     int    `json:"items"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error"`
}

// AMCRefreshedEvent is published after consumption figures are recomputed
type AMCRefreshedEvent struct {
	StockCards  int       `json:"stock_cards"`
	Unset       int       `json:"unset"`
	PeriodBegin time.Time `json:"period_begin"`
	PeriodEnd   time.Time `json:"period_end"`
}

// SyncRequestedCommand asks the service to start a run
type SyncRequestedCommand struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// GenerateEventID returns a new random event identifier
func GenerateEventID() string {
	return uuid.New().String()
}
