package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/internal/stock/memstore"
	stockservice "github.com/fieldlmis/stocksync/internal/stock/service"
	"github.com/fieldlmis/stocksync/internal/sync/checkpoint"
	"github.com/fieldlmis/stocksync/pkg/config"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 25, 10, 0, 0, 0, time.UTC)

type window struct {
	start, end time.Time
}

// fakeRemote serves scripted responses and records what was asked
type fakeRemote struct {
	mu sync.Mutex

	catalog         []domain.ProgramWithProducts
	catalogErr      error
	requisitions    []*domain.RequisitionForm
	requisitionsErr error
	// movements builds fresh cards for every call
	movements func(start, end time.Time) ([]*domain.StockCard, error)
	block     chan struct{}

	calls   map[string]int
	windows []window
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{calls: make(map[string]int)}
}

func (r *fakeRemote) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *fakeRemote) requested() []window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]window(nil), r.windows...)
}

func (r *fakeRemote) FetchCatalog(ctx context.Context, facilityCode string) ([]domain.ProgramWithProducts, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["catalog"]++
	return r.catalog, r.catalogErr
}

func (r *fakeRemote) FetchMovements(ctx context.Context, facilityID string, start, end time.Time) ([]*domain.StockCard, error) {
	r.mu.Lock()
	r.calls["movements"]++
	r.windows = append(r.windows, window{start, end})
	build := r.movements
	r.mu.Unlock()

	if build == nil {
		return nil, nil
	}
	return build(start, end)
}

func (r *fakeRemote) FetchRequisitions(ctx context.Context, facilityCode string) ([]*domain.RequisitionForm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["requisitions"]++
	return r.requisitions, r.requisitionsErr
}

type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingReporter) StageStarted(ctx context.Context, runID string, stage Stage, progress Progress) {
	r.add("started %s", stage)
}

func (r *recordingReporter) StageCompleted(ctx context.Context, runID string, stage Stage, progress Progress) {
	r.add("completed %s", stage)
}

func (r *recordingReporter) StageFailed(ctx context.Context, runID string, stage Stage, err error, fatal bool) {
	r.add("failed %s fatal=%t", stage, fatal)
}

func (r *recordingReporter) HistoricalCheckpointed(ctx context.Context, runID string, end time.Time, monthIndex int, err error) {
	r.add("checkpoint %d", monthIndex)
}

func (r *recordingReporter) LotBatchRejected(ctx context.Context, runID string, stage Stage, items int, err error) {
	r.add("lots rejected %s items=%d", stage, items)
}

func (r *recordingReporter) RunCompleted(ctx context.Context, runID string, startedAt time.Time, err error) {
	r.add("run ok=%t", err == nil)
}

type harness struct {
	store    *memstore.Store
	state    *checkpoint.Store
	remote   *fakeRemote
	reporter *recordingReporter
	orch     *Orchestrator
	fixtures *testutil.FixtureFactory
}

func newHarness(t *testing.T, remoteCfg config.RemoteConfig) *harness {
	t.Helper()
	store := memstore.New()
	state := checkpoint.NewStore(checkpoint.NewMemoryBackend(), store, store.Requisitions())
	remote := newFakeRemote()
	reporter := &recordingReporter{}
	log := testutil.TestLogger()

	deps := Dependencies{
		Remote:       remote,
		Tx:           store,
		Stocks:       store,
		Programs:     store,
		Requisitions: store.Requisitions(),
		Lots:         stockservice.NewLotLedgerReconciler(store, store, log),
		State:        state,
		Reporter:     reporter,
	}
	cfg := config.SyncConfig{RecentWindowDays: 30, SlackDays: 1, HistoricalMonths: 12, WindowDays: 30}

	return &harness{
		store:    store,
		state:    state,
		remote:   remote,
		reporter: reporter,
		orch:     NewOrchestrator(deps, cfg, remoteCfg, log).WithClock(func() time.Time { return now }),
		fixtures: testutil.NewFixtureFactory(),
	}
}

var facility = config.RemoteConfig{FacilityID: "fac-1", FacilityCode: "HF001"}

// inRecentWindow returns build only for the recent window
func inRecentWindow(build func() []*domain.StockCard) func(start, end time.Time) ([]*domain.StockCard, error) {
	return func(start, end time.Time) ([]*domain.StockCard, error) {
		if end.After(now) {
			return build(), nil
		}
		return nil, nil
	}
}

func lotBalance(t *testing.T, store *memstore.Store, productID int64, lotNumber string) int64 {
	t.Helper()
	ctx := context.Background()
	card := store.CardByProduct(productID)
	require.NotNil(t, card)
	lot, err := store.FindLot(ctx, lotNumber, productID)
	require.NoError(t, err)
	require.NotNil(t, lot)
	onHand, err := store.FindLotOnHand(ctx, lot.ID, card.ID)
	require.NoError(t, err)
	require.NotNil(t, onHand)
	return onHand.QuantityOnHand
}

func TestRun_FullSync(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	f := h.fixtures
	h.remote.catalog = []domain.ProgramWithProducts{f.Program(2)}
	h.remote.requisitions = []*domain.RequisitionForm{f.Requisition("PRG-01")}
	h.remote.movements = inRecentWindow(func() []*domain.StockCard {
		return []*domain.StockCard{f.StockCard(
			testutil.WithProduct(501),
			testutil.WithStockOnHand(10),
			testutil.WithMovements(f.Movement(now.AddDate(0, 0, -3), testutil.Receive(10, 10), testutil.WithMovementID("mv-1"))),
		)}
	})

	task, started := h.orch.Start(ctx)
	require.True(t, started)

	var progress []Progress
	for p := range task.Progress() {
		progress = append(progress, p)
	}
	require.NoError(t, task.Wait(ctx))

	assert.Equal(t, []Progress{
		SyncingCatalog, CatalogSynced,
		SyncingRecentMovements, RecentMovementsSynced,
		SyncingRequisitions, RequisitionsSynced,
		SyncingHistoricalMovements, HistoricalMovementsSynced,
	}, progress)

	state, err := h.state.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.CatalogSynced)
	assert.True(t, state.RecentMovementsSynced)
	assert.True(t, state.RequisitionsSynced)
	assert.False(t, state.HistoricalSyncPending)
	assert.Equal(t, 1, state.HistoricalSyncMonthIndex)
	assert.False(t, state.InventoryNeeded)

	windows := h.remote.requested()
	require.Len(t, windows, 13)
	assert.Equal(t, now.AddDate(0, 0, -30), windows[0].start)
	assert.Equal(t, now.AddDate(0, 0, 1), windows[0].end)
	assert.Equal(t, now.AddDate(0, 0, -60), windows[1].start)
	assert.Equal(t, now.AddDate(0, 0, -30), windows[1].end)
	assert.Equal(t, now.AddDate(0, 0, -390), windows[12].start)

	assert.Equal(t, 1, h.store.ProgramCount())
	assert.Equal(t, 1, h.store.FormCount())
	assert.Equal(t, 1, h.store.MovementCount())
	assert.False(t, h.orch.Running())
	assert.Equal(t, "run ok=true", h.reporter.list()[len(h.reporter.list())-1])
}

func TestRun_SyncedStagesAreSkipped(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	require.NoError(t, h.state.SetCatalogSynced(ctx, true))
	require.NoError(t, h.state.SetRecentMovementsSynced(ctx, true))
	require.NoError(t, h.state.SetRequisitionsSynced(ctx, true))

	require.NoError(t, h.orch.Run(ctx))

	assert.Equal(t, 0, h.remote.count("catalog"))
	assert.Equal(t, 0, h.remote.count("movements"))
	assert.Equal(t, 0, h.remote.count("requisitions"))
	assert.Equal(t, []string{"run ok=true"}, h.reporter.list())
}

func TestRun_CatalogFailureAbortsRun(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	h.remote.catalogErr = apperrors.Transport(errors.New("connection refused"), "fetch catalog")

	err := h.orch.Run(ctx)

	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransport, apperrors.KindOf(err))
	var syncErr *apperrors.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, string(StageCatalog), syncErr.Stage)

	assert.Equal(t, 0, h.remote.count("movements"))
	assert.Equal(t, 0, h.remote.count("requisitions"))

	synced, err := h.state.CatalogSynced(ctx)
	require.NoError(t, err)
	assert.False(t, synced)
	assert.Equal(t, []string{"started catalog", "failed catalog fatal=true", "run ok=false"}, h.reporter.list())
}

func TestRun_NoFacility(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, config.RemoteConfig{})

	err := h.orch.Run(ctx)

	require.Error(t, err)
	assert.Equal(t, apperrors.KindMissingPrecondition, apperrors.KindOf(err))
	assert.ErrorIs(t, err, apperrors.ErrNoFacility)
	assert.Equal(t, 0, h.remote.count("catalog"))
}

func TestRun_MissingFacilityIDFailsMovementStage(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, config.RemoteConfig{FacilityCode: "HF001"})

	err := h.orch.Run(ctx)

	require.Error(t, err)
	assert.Equal(t, apperrors.KindMissingPrecondition, apperrors.KindOf(err))
	assert.Equal(t, 1, h.remote.count("catalog"))
	assert.Equal(t, 0, h.remote.count("movements"))
}

func TestRun_MalformedRequisitionsIsFatal(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	h.remote.requisitionsErr = apperrors.Malformed(nil, "requisitions missing from response")

	err := h.orch.Run(ctx)

	require.Error(t, err)
	assert.Equal(t, apperrors.KindMalformedResponse, apperrors.KindOf(err))

	state, stateErr := h.state.State(ctx)
	require.NoError(t, stateErr)
	assert.True(t, state.CatalogSynced)
	assert.True(t, state.RecentMovementsSynced)
	assert.False(t, state.RequisitionsSynced)
	assert.True(t, state.HistoricalSyncPending)
	// only the recent window; the historical stage never started
	assert.Equal(t, 1, h.remote.count("movements"))
}

func TestRun_HistoricalFailureResumesAtSameMonth(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	failAt := now.AddDate(0, 0, -30*5)
	failing := true
	h.remote.movements = func(start, end time.Time) ([]*domain.StockCard, error) {
		if failing && end.Equal(failAt) {
			return nil, apperrors.Transport(errors.New("timeout"), "fetch movements")
		}
		return nil, nil
	}

	require.NoError(t, h.orch.Run(ctx), "historical failures do not fail the run")

	end, month, ok, err := h.state.HistoricalCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, end.Equal(now))
	assert.Equal(t, 5, month)
	pending, err := h.state.HistoricalSyncPending(ctx)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Contains(t, h.reporter.list(), "failed historical_movements fatal=false")
	assert.Contains(t, h.reporter.list(), "checkpoint 5")
	// recent window plus months 1 to 5
	assert.Len(t, h.remote.requested(), 6)

	failing = false
	before := len(h.remote.requested())
	require.NoError(t, h.orch.Run(ctx))

	resumed := h.remote.requested()[before:]
	require.Len(t, resumed, 8, "months 5 to 12")
	assert.Equal(t, failAt, resumed[0].end)
	assert.Equal(t, 1, h.remote.count("catalog"))

	pending, err = h.state.HistoricalSyncPending(ctx)
	require.NoError(t, err)
	assert.False(t, pending)
	_, month, _, err = h.state.HistoricalCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, month)
}

func TestStart_SingleFlight(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	h.remote.block = make(chan struct{})

	first, started := h.orch.Start(ctx)
	require.True(t, started)
	assert.True(t, h.orch.Running())

	second, started := h.orch.Start(ctx)
	assert.False(t, started)
	select {
	case <-second.Done():
	default:
		t.Fatal("rejected start must return a completed task")
	}
	assert.NoError(t, second.Err())

	close(h.remote.block)
	require.NoError(t, first.Wait(ctx))
	assert.False(t, h.orch.Running())
	assert.Equal(t, 1, h.remote.count("catalog"))

	third, started := h.orch.Start(ctx)
	require.True(t, started, "a new run may start once the previous one ended")
	require.NoError(t, third.Wait(ctx))
}

func TestStart_DetachedFromCallerContext(t *testing.T) {
	h := newHarness(t, facility)
	h.remote.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	task, started := h.orch.Start(ctx)
	require.True(t, started)
	cancel()
	close(h.remote.block)

	require.NoError(t, task.Wait(testutil.DefaultTestContext(t)))
	assert.Equal(t, 1, h.remote.count("requisitions"))
}

func TestRun_ResyncIsIdempotent(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	f := h.fixtures
	h.remote.movements = inRecentWindow(func() []*domain.StockCard {
		return []*domain.StockCard{f.StockCard(
			testutil.WithProduct(501),
			testutil.WithStockOnHand(6),
			testutil.WithMovements(
				f.Movement(now.AddDate(0, 0, -5), testutil.Receive(10, 10), testutil.WithMovementID("mv-1"),
					testutil.WithLots(f.LotMovement("L1", 501, 10))),
				f.Movement(now.AddDate(0, 0, -2), testutil.Issue(4, 6), testutil.WithMovementID("mv-2"),
					testutil.WithLots(f.LotMovement("L1", 501, 4))),
			),
		)}
	})

	require.NoError(t, h.orch.Run(ctx))
	assert.Equal(t, int64(6), lotBalance(t, h.store, 501, "L1"), "issue is applied as a negative delta")

	require.NoError(t, h.state.SetRecentMovementsSynced(ctx, false))
	require.NoError(t, h.orch.Run(ctx))

	assert.Equal(t, 2, h.store.MovementCount())
	assert.Equal(t, 2, h.store.LotMovementCount())
	assert.Equal(t, 1, h.store.LotCount())
	assert.Equal(t, int64(6), lotBalance(t, h.store, 501, "L1"))
	assert.Equal(t, int64(6), h.store.CardByProduct(501).StockOnHand)
}

func TestMergeWindow_ExistingCardKeepsAMC(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	f := h.fixtures

	local := f.StockCard(testutil.WithProduct(501), testutil.WithStockOnHand(3))
	require.NoError(t, h.store.CreateOrUpdate(ctx, local))
	local.AvgMonthlyConsumption = 12.5
	require.NoError(t, h.store.CreateOrUpdate(ctx, local))

	remote := f.StockCard(testutil.WithProduct(501), testutil.WithStockOnHand(9),
		testutil.WithMovements(f.Movement(now, testutil.Receive(6, 9))))
	remote.ID = local.ID

	require.NoError(t, h.orch.mergeWindow(ctx, []*domain.StockCard{remote}))

	got, err := h.store.GetByID(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.StockOnHand)
	assert.Equal(t, 12.5, got.AvgMonthlyConsumption)
	assert.Equal(t, 1, h.store.MovementCount())
}

func TestMergeWindow_UnknownRemoteIDStoredAsNew(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	f := h.fixtures

	remote := f.StockCard(testutil.WithProduct(777), testutil.WithStockOnHand(5),
		testutil.WithMovements(f.Movement(now, testutil.Receive(5, 5),
			testutil.WithLots(f.LotMovement("L9", 777, 5)))))
	remote.ID = 99

	require.NoError(t, h.orch.mergeWindow(ctx, []*domain.StockCard{remote}))

	card := h.store.CardByProduct(777)
	require.NotNil(t, card)
	assert.Equal(t, int64(5), card.StockOnHand)
	assert.Equal(t, int64(5), lotBalance(t, h.store, 777, "L9"))
}

func TestRun_LotReceivedBeforeRecentWindow(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	f := h.fixtures
	h.remote.requisitions = []*domain.RequisitionForm{f.Requisition("PRG-01")}
	received := now.AddDate(0, 0, -45)
	issued := now.AddDate(0, 0, -5)
	h.remote.movements = func(start, end time.Time) ([]*domain.StockCard, error) {
		var movements []*domain.StockMovementItem
		if !received.Before(start) && received.Before(end) {
			movements = append(movements, f.Movement(received, testutil.Receive(20, 20),
				testutil.WithMovementID("mv-receipt"), testutil.WithLots(f.LotMovement("L1", 501, 20))))
		}
		if !issued.Before(start) && issued.Before(end) {
			movements = append(movements, f.Movement(issued, testutil.Issue(5, 15),
				testutil.WithMovementID("mv-issue"), testutil.WithLots(f.LotMovement("L1", 501, 5))))
		}
		if len(movements) == 0 {
			return nil, nil
		}
		return []*domain.StockCard{f.StockCard(
			testutil.WithProduct(501), testutil.WithStockOnHand(15), testutil.WithMovements(movements...),
		)}, nil
	}

	require.NoError(t, h.orch.Run(ctx))

	state, err := h.state.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.RecentMovementsSynced)
	assert.True(t, state.RequisitionsSynced)
	assert.False(t, state.HistoricalSyncPending)
	assert.Equal(t, 1, h.remote.count("requisitions"))
	assert.Equal(t, 1, h.store.FormCount())
	assert.Equal(t, 2, h.store.MovementCount())
	assert.Contains(t, h.reporter.list(), "lots rejected recent_movements items=1")
	assert.NotContains(t, h.reporter.list(), "failed recent_movements fatal=true")

	// the rejected issue is reported, not replayed; the receipt lands with the
	// first historical window
	assert.Equal(t, int64(20), lotBalance(t, h.store, 501, "L1"))
	assert.Equal(t, 1, h.store.LotMovementCount())

	require.NoError(t, h.orch.Run(ctx), "later runs are not blocked either")
}

func TestMergeWindow_RejectedLotBatchKeepsMovements(t *testing.T) {
	ctx := withRunScope(testutil.DefaultTestContext(t), "run-1", StageRecentMovements)
	h := newHarness(t, facility)
	f := h.fixtures

	cards := []*domain.StockCard{
		f.StockCard(testutil.WithProduct(501), testutil.WithMovements(
			f.Movement(now, testutil.Receive(3, 3), testutil.WithLots(f.LotMovement("OK", 501, 3))))),
		f.StockCard(testutil.WithProduct(502), testutil.WithMovements(
			f.Movement(now, testutil.Issue(5, 0), testutil.WithLots(f.LotMovement("NEG", 502, 5))))),
	}

	require.NoError(t, h.orch.mergeWindow(ctx, cards))

	assert.Equal(t, 2, h.store.MovementCount())
	assert.NotNil(t, h.store.CardByProduct(501))
	assert.NotNil(t, h.store.CardByProduct(502))
	assert.Equal(t, 0, h.store.LotCount(), "the lot batch is all or nothing")
	assert.Equal(t, 0, h.store.LotMovementCount())
	assert.Equal(t, []string{"lots rejected recent_movements items=2"}, h.reporter.list())
}

func TestMergeWindow_PhysicalInventoryLowersLot(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	f := h.fixtures

	receipt := f.StockCard(testutil.WithProduct(501), testutil.WithStockOnHand(10), testutil.WithMovements(
		f.Movement(now.AddDate(0, 0, -3), testutil.Receive(10, 10), testutil.WithMovementID("mv-receipt"),
			testutil.WithLots(f.LotMovement("L1", 501, 10)))))
	require.NoError(t, h.orch.mergeWindow(ctx, []*domain.StockCard{receipt}))

	count := f.StockCard(testutil.WithProduct(501), testutil.WithStockOnHand(6), testutil.WithMovements(
		f.Movement(now, func(m *domain.StockMovementItem) {
			m.MovementType = domain.MovementPhysicalInventory
			m.MovementQuantity = 4
			m.StockOnHand = 6
		}, testutil.WithMovementID("mv-count"), testutil.WithLots(f.LotMovement("L1", 501, -4)))))
	require.NoError(t, h.orch.mergeWindow(ctx, []*domain.StockCard{count}))

	assert.Equal(t, int64(6), lotBalance(t, h.store, 501, "L1"))
	assert.Equal(t, 2, h.store.LotMovementCount())
	assert.Empty(t, h.reporter.list())
}

func TestMergeWindow_UnknownMovementTypeIsMalformed(t *testing.T) {
	ctx := testutil.DefaultTestContext(t)
	h := newHarness(t, facility)
	f := h.fixtures

	card := f.StockCard(testutil.WithMovements(f.Movement(now, func(m *domain.StockMovementItem) {
		m.MovementType = "TELEPORT"
	}, testutil.WithLots(f.LotMovement("L1", 1, 1)))))

	err := h.orch.mergeWindow(ctx, []*domain.StockCard{card})

	require.Error(t, err)
	assert.Equal(t, apperrors.KindMalformedResponse, apperrors.KindOf(err))
	assert.Equal(t, 0, h.store.MovementCount())
}
