package memstore

import (
	"context"
	"fmt"

	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/google/uuid"
)

func lotKey(lotNumber string, productID int64) string {
	return fmt.Sprintf("%d/%s", productID, lotNumber)
}

func onHandKey(lotID string, stockCardID int64) string {
	return fmt.Sprintf("%s/%d", lotID, stockCardID)
}

func (s *Store) FindLot(ctx context.Context, lotNumber string, productID int64) (*domain.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindLot"); err != nil {
		return nil, err
	}

	lot, ok := s.st.lots[lotKey(lotNumber, productID)]
	if !ok {
		return nil, nil
	}
	cp := *lot
	return &cp, nil
}

func (s *Store) CreateLot(ctx context.Context, lot *domain.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateLot"); err != nil {
		return err
	}

	key := lotKey(lot.LotNumber, lot.ProductID)
	if _, exists := s.st.lots[key]; exists {
		return fmt.Errorf("lot %s of product %d already exists", lot.LotNumber, lot.ProductID)
	}
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	cp := *lot
	s.st.lots[key] = &cp
	return nil
}

func (s *Store) FindLotOnHand(ctx context.Context, lotID string, stockCardID int64) (*domain.LotOnHand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindLotOnHand"); err != nil {
		return nil, err
	}

	oh, ok := s.st.onHand[onHandKey(lotID, stockCardID)]
	if !ok {
		return nil, nil
	}
	cp := *oh
	return &cp, nil
}

func (s *Store) CreateLotOnHand(ctx context.Context, onHand *domain.LotOnHand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateLotOnHand"); err != nil {
		return err
	}

	key := onHandKey(onHand.LotID, onHand.StockCardID)
	if _, exists := s.st.onHand[key]; exists {
		return fmt.Errorf("lot %s already has a balance on stock card %d", onHand.LotID, onHand.StockCardID)
	}
	if onHand.ID == "" {
		onHand.ID = uuid.New().String()
	}
	cp := *onHand
	s.st.onHand[key] = &cp
	return nil
}

func (s *Store) UpdateLotOnHand(ctx context.Context, onHand *domain.LotOnHand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateLotOnHand"); err != nil {
		return err
	}

	key := onHandKey(onHand.LotID, onHand.StockCardID)
	if _, exists := s.st.onHand[key]; !exists {
		return fmt.Errorf("lot on hand %s not found", onHand.ID)
	}
	cp := *onHand
	s.st.onHand[key] = &cp
	return nil
}

func (s *Store) ListLotsOnHand(ctx context.Context, stockCardID int64) ([]*domain.LotOnHand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListLotsOnHand"); err != nil {
		return nil, err
	}

	var out []*domain.LotOnHand
	for _, oh := range s.st.onHand {
		if oh.StockCardID == stockCardID {
			cp := *oh
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) CreateLotMovement(ctx context.Context, item *domain.LotMovementItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateLotMovement"); err != nil {
		return err
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	cp := *item
	s.st.lotMovements = append(s.st.lotMovements, &cp)
	return nil
}

// LotCount returns the number of distinct lots.
func (s *Store) LotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.lots)
}

// LotMovementCount returns the number of stored lot movements.
func (s *Store) LotMovementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.lotMovements)
}
