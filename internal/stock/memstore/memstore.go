// Package memstore is an in-memory implementation of the stock repository
// ports. It backs the service, handler and consumer tests.
//
// InTx snapshots the whole store and restores it when fn fails, so batches
// are all-or-nothing exactly like the PostgreSQL repositories.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/google/uuid"
)

type txKey struct{}

type state struct {
	cards        map[int64]*domain.StockCard
	nextCardID   int64
	movements    map[int64][]*domain.StockMovementItem
	movementIDs  map[string]struct{}
	lots         map[string]*domain.Lot
	onHand       map[string]*domain.LotOnHand
	lotMovements []*domain.LotMovementItem
	catalog      map[int64]domain.ProgramWithProducts
	forms        map[int64]*domain.RequisitionForm
	metrics      []*domain.ConsumptionMetric
}

func newState() *state {
	return &state{
		cards:       make(map[int64]*domain.StockCard),
		movements:   make(map[int64][]*domain.StockMovementItem),
		movementIDs: make(map[string]struct{}),
		lots:        make(map[string]*domain.Lot),
		onHand:      make(map[string]*domain.LotOnHand),
		catalog:     make(map[int64]domain.ProgramWithProducts),
		forms:       make(map[int64]*domain.RequisitionForm),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextCardID = s.nextCardID
	for k, v := range s.cards {
		c.cards[k] = copyCard(v)
	}
	for k, v := range s.movements {
		items := make([]*domain.StockMovementItem, len(v))
		for i, m := range v {
			items[i] = copyMovement(m)
		}
		c.movements[k] = items
	}
	for k := range s.movementIDs {
		c.movementIDs[k] = struct{}{}
	}
	for k, v := range s.lots {
		lot := *v
		c.lots[k] = &lot
	}
	for k, v := range s.onHand {
		oh := *v
		c.onHand[k] = &oh
	}
	for _, v := range s.lotMovements {
		lm := *v
		c.lotMovements = append(c.lotMovements, &lm)
	}
	for k, v := range s.catalog {
		c.catalog[k] = v
	}
	for k, v := range s.forms {
		f := *v
		c.forms[k] = &f
	}
	for _, v := range s.metrics {
		m := *v
		c.metrics = append(c.metrics, &m)
	}
	return c
}

// Store implements every stock port plus domain.TxRunner
type Store struct {
	mu    sync.Mutex
	st    *state
	fails map[string]error
	calls map[string]int
	now   func() time.Time
}

// New returns an empty store
func New() *Store {
	return &Store{
		st:    newState(),
		fails: make(map[string]error),
		calls: make(map[string]int),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ domain.TxRunner                    = (*Store)(nil)
	_ domain.StockRepository             = (*Store)(nil)
	_ domain.LotRepository               = (*Store)(nil)
	_ domain.RequisitionRepository       = requisitions{}
	_ domain.ProgramRepository           = (*Store)(nil)
	_ domain.ConsumptionMetricRepository = (*Store)(nil)
)

// Fail makes every later call of op return err. A nil err clears it.
// op is the method name, e.g. "CreateLotMovement".
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fails, op)
		return
	}
	s.fails[op] = err
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records a call and returns the injected failure for op, if any.
// The caller must hold s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.fails[op]
}

// InTx runs fn and rolls every change back when it returns an error.
// Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bool); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Stock cards and movements

func (s *Store) List(ctx context.Context) ([]*domain.StockCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("List"); err != nil {
		return nil, err
	}

	out := make([]*domain.StockCard, 0, len(s.st.cards))
	for _, c := range s.st.cards {
		out = append(out, copyCard(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*domain.StockCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetByID"); err != nil {
		return nil, err
	}

	c, ok := s.st.cards[id]
	if !ok {
		return nil, fmt.Errorf("stock card %d: %w", id, apperrors.ErrStockCardNotFound)
	}
	return copyCard(c), nil
}

// CardByProduct returns the card of productID, or nil.
func (s *Store) CardByProduct(productID int64) *domain.StockCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.cardByProduct(productID); c != nil {
		return copyCard(c)
	}
	return nil
}

func (s *Store) cardByProduct(productID int64) *domain.StockCard {
	for _, c := range s.st.cards {
		if c.ProductID == productID {
			return c
		}
	}
	return nil
}

func (s *Store) QueryFirstMovement(ctx context.Context, stockCardID int64) (*domain.StockMovementItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("QueryFirstMovement"); err != nil {
		return nil, err
	}

	items := s.st.movements[stockCardID]
	if len(items) == 0 {
		return nil, nil
	}
	return copyMovement(items[0]), nil
}

func (s *Store) QueryMovements(ctx context.Context, stockCardID int64, start, end time.Time) ([]*domain.StockMovementItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("QueryMovements"); err != nil {
		return nil, err
	}

	var out []*domain.StockMovementItem
	for _, m := range s.st.movements[stockCardID] {
		if !m.MovementDate.Before(start) && m.MovementDate.Before(end) {
			out = append(out, copyMovement(m))
		}
	}
	return out, nil
}

func (s *Store) LatestMovementBefore(ctx context.Context, stockCardID int64, t time.Time) (*domain.StockMovementItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("LatestMovementBefore"); err != nil {
		return nil, err
	}

	var latest *domain.StockMovementItem
	for _, m := range s.st.movements[stockCardID] {
		if m.MovementDate.Before(t) {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyMovement(latest), nil
}

// CreateOrUpdate inserts card when its ID is unset and updates it otherwise.
func (s *Store) CreateOrUpdate(ctx context.Context, card *domain.StockCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateOrUpdate"); err != nil {
		return err
	}

	now := s.now()
	if card.ID <= 0 {
		if existing := s.cardByProduct(card.ProductID); existing != nil {
			return fmt.Errorf("stock card for product %d already exists", card.ProductID)
		}
		s.st.nextCardID++
		card.ID = s.st.nextCardID
		card.CreatedAt = now
	} else if _, ok := s.st.cards[card.ID]; !ok {
		return fmt.Errorf("stock card %d: %w", card.ID, apperrors.ErrStockCardNotFound)
	}
	card.UpdatedAt = now
	s.st.cards[card.ID] = copyCard(card)
	return nil
}

func (s *Store) SaveNewStockCardWithMovements(ctx context.Context, card *domain.StockCard) ([]*domain.StockMovementItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SaveNewStockCardWithMovements"); err != nil {
		return nil, err
	}

	now := s.now()
	stored := s.cardByProduct(card.ProductID)
	if stored == nil {
		s.st.nextCardID++
		stored = &domain.StockCard{
			ID:                    s.st.nextCardID,
			ProductID:             card.ProductID,
			AvgMonthlyConsumption: domain.AMCUnset,
			CreatedAt:             now,
		}
		s.st.cards[stored.ID] = stored
	}
	stored.StockOnHand = card.StockOnHand
	stored.UpdatedAt = now
	card.ID = stored.ID
	card.AvgMonthlyConsumption = stored.AvgMonthlyConsumption

	return s.insertMovements(stored.ID, card.Movements), nil
}

func (s *Store) BatchUpsertMovements(ctx context.Context, stockCardID int64, movements []*domain.StockMovementItem) ([]*domain.StockMovementItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("BatchUpsertMovements"); err != nil {
		return nil, err
	}

	if _, ok := s.st.cards[stockCardID]; !ok {
		return nil, fmt.Errorf("stock card %d: %w", stockCardID, apperrors.ErrStockCardNotFound)
	}
	return s.insertMovements(stockCardID, movements), nil
}

// insertMovements stores the movements not seen before and returns them.
func (s *Store) insertMovements(stockCardID int64, movements []*domain.StockMovementItem) []*domain.StockMovementItem {
	var inserted []*domain.StockMovementItem
	for _, m := range movements {
		if _, dup := s.st.movementIDs[m.ID]; dup {
			continue
		}
		m.StockCardID = stockCardID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}
		s.st.movementIDs[m.ID] = struct{}{}
		s.st.movements[stockCardID] = append(s.st.movements[stockCardID], copyMovement(m))
		inserted = append(inserted, m)
	}

	items := s.st.movements[stockCardID]
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].MovementDate.Before(items[j].MovementDate)
	})
	return inserted
}

func (s *Store) HasAnyData(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("HasAnyData"); err != nil {
		return false, err
	}
	return len(s.st.cards) > 0, nil
}

// MovementCount returns the number of stored movements across all cards.
func (s *Store) MovementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.movementIDs)
}

// Requisitions and catalog

// Requisitions is the RequisitionRepository view of the store. It is separate
// because StockRepository also declares HasAnyData.
func (s *Store) Requisitions() domain.RequisitionRepository {
	return requisitions{s}
}

type requisitions struct{ s *Store }

func (r requisitions) CreateFormsAndItems(ctx context.Context, forms []*domain.RequisitionForm) error {
	return r.s.CreateFormsAndItems(ctx, forms)
}

func (r requisitions) HasAnyData(ctx context.Context) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("Requisitions.HasAnyData"); err != nil {
		return false, err
	}
	return len(r.s.st.forms) > 0, nil
}

func (s *Store) CreateFormsAndItems(ctx context.Context, forms []*domain.RequisitionForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateFormsAndItems"); err != nil {
		return err
	}

	for _, f := range forms {
		cp := *f
		cp.Items = append([]domain.RequisitionItem(nil), f.Items...)
		for i := range cp.Items {
			cp.Items[i].FormID = f.ID
		}
		s.st.forms[f.ID] = &cp
	}
	return nil
}

// FormCount returns the number of stored requisition forms.
func (s *Store) FormCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.forms)
}

func (s *Store) SaveCatalog(ctx context.Context, catalog []domain.ProgramWithProducts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SaveCatalog"); err != nil {
		return err
	}

	for _, p := range catalog {
		s.st.catalog[p.Program.ID] = domain.ProgramWithProducts{
			Program:  p.Program,
			Products: append([]domain.Product(nil), p.Products...),
		}
	}
	return nil
}

// ProgramCount returns the number of stored programs.
func (s *Store) ProgramCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.catalog)
}

// Consumption metrics

func (s *Store) Save(ctx context.Context, metric *domain.ConsumptionMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Save"); err != nil {
		return err
	}

	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = s.now()
	}
	cp := *metric
	s.st.metrics = append(s.st.metrics, &cp)
	return nil
}

// ListByStockCard returns the newest snapshots first.
func (s *Store) ListByStockCard(ctx context.Context, stockCardID int64, limit int) ([]*domain.ConsumptionMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListByStockCard"); err != nil {
		return nil, err
	}

	var out []*domain.ConsumptionMetric
	for i := len(s.st.metrics) - 1; i >= 0; i-- {
		m := s.st.metrics[i]
		if m.StockCardID != stockCardID {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func copyCard(c *domain.StockCard) *domain.StockCard {
	cp := *c
	cp.Movements = nil
	return &cp
}

func copyMovement(m *domain.StockMovementItem) *domain.StockMovementItem {
	cp := *m
	cp.LotMovements = nil
	return &cp
}
