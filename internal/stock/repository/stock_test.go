package repository_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fieldlmis/stocksync/internal/stock/domain"
	"github.com/fieldlmis/stocksync/internal/stock/repository"
	"github.com/fieldlmis/stocksync/pkg/database"
	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/fieldlmis/stocksync/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var movementCols = []string{
	"id", "stock_card_id", "movement_type", "movement_quantity", "stock_on_hand", "movement_date",
	"reason", "document_number", "signature", "synced", "created_at",
}

func newStockRepo(t *testing.T) (*repository.StockRepository, *testutil.MockDB) {
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	return repository.NewStockRepository(database.Wrap(mockDB.DB, nil)), mockDB
}

func movementArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func TestStockRepository_GetByID_NotFound(t *testing.T) {
	repo, mockDB := newStockRepo(t)

	mockDB.ExpectQuery("FROM stock_cards WHERE id = $1").
		WithArgs(int64(7)).
		WillReturnRows(testutil.MockRows("id", "product_id", "stock_on_hand", "avg_monthly_consumption", "created_at", "updated_at"))

	card, err := repo.GetByID(context.Background(), 7)

	assert.Nil(t, card)
	assert.ErrorIs(t, err, apperrors.ErrStockCardNotFound)
	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_QueryFirstMovement_None(t *testing.T) {
	repo, mockDB := newStockRepo(t)

	mockDB.ExpectQuery("FROM stock_movement_items").
		WithArgs(int64(3)).
		WillReturnRows(testutil.MockRows(movementCols...))

	item, err := repo.QueryFirstMovement(context.Background(), 3)

	require.NoError(t, err)
	assert.Nil(t, item)
	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_QueryMovements(t *testing.T) {
	repo, mockDB := newStockRepo(t)
	start := testutil.Date(2024, 5, 21)
	end := testutil.Date(2024, 6, 21)
	at := testutil.Date(2024, 5, 25)

	mockDB.ExpectQuery("movement_date >= $2 AND movement_date < $3").
		WithArgs(int64(3), start, end).
		WillReturnRows(testutil.MockRows(movementCols...).
			AddRow("mv-1", int64(3), "ISSUE", int64(10), int64(0), at, "", "DOC-1", "", true, at))

	items, err := repo.QueryMovements(context.Background(), 3, start, end)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.MovementIssue, items[0].MovementType)
	assert.True(t, items[0].IsStockOut())
	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_CreateOrUpdate(t *testing.T) {
	repo, mockDB := newStockRepo(t)
	now := time.Now()

	mockDB.ExpectQuery("INSERT INTO stock_cards").
		WithArgs(int64(42), int64(10), domain.AMCUnset).
		WillReturnRows(testutil.MockRows("id", "created_at", "updated_at").AddRow(int64(5), now, now))
	mockDB.ExpectQuery("UPDATE stock_cards SET").
		WithArgs(int64(5), int64(10), 12.5).
		WillReturnRows(testutil.MockRows("updated_at").AddRow(now))

	card := &domain.StockCard{ProductID: 42, StockOnHand: 10, AvgMonthlyConsumption: domain.AMCUnset}
	require.NoError(t, repo.CreateOrUpdate(context.Background(), card))
	assert.Equal(t, int64(5), card.ID)

	card.AvgMonthlyConsumption = 12.5
	require.NoError(t, repo.CreateOrUpdate(context.Background(), card))
	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_BatchUpsertMovements_SkipsStoredIDs(t *testing.T) {
	repo, mockDB := newStockRepo(t)
	at := testutil.Date(2024, 5, 25)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT EXISTS(SELECT 1 FROM stock_cards WHERE id = $1)").
		WithArgs(int64(3)).
		WillReturnRows(testutil.MockRows("exists").AddRow(true))
	mockDB.ExpectQuery("INSERT INTO stock_movement_items").
		WithArgs(movementArgs(11)...).
		WillReturnRows(testutil.MockRows("created_at").AddRow(at))
	mockDB.ExpectQuery("INSERT INTO stock_movement_items").
		WithArgs(movementArgs(11)...).
		WillReturnRows(testutil.MockRows("created_at"))
	mockDB.ExpectCommit()

	movements := []*domain.StockMovementItem{
		{ID: "mv-new", MovementType: domain.MovementReceive, MovementQuantity: 5, StockOnHand: 5, MovementDate: at},
		{ID: "mv-old", MovementType: domain.MovementIssue, MovementQuantity: 1, StockOnHand: 4, MovementDate: at},
	}
	inserted, err := repo.BatchUpsertMovements(context.Background(), 3, movements)

	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "mv-new", inserted[0].ID)
	assert.Equal(t, int64(3), inserted[0].StockCardID)
	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_BatchUpsertMovements_UnknownCard(t *testing.T) {
	repo, mockDB := newStockRepo(t)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT EXISTS(SELECT 1 FROM stock_cards WHERE id = $1)").
		WithArgs(int64(9)).
		WillReturnRows(testutil.MockRows("exists").AddRow(false))
	mockDB.ExpectRollback()

	_, err := repo.BatchUpsertMovements(context.Background(), 9, []*domain.StockMovementItem{{ID: "mv-1"}})

	assert.ErrorIs(t, err, apperrors.ErrStockCardNotFound)
	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_SaveNewStockCardWithMovements(t *testing.T) {
	repo, mockDB := newStockRepo(t)
	now := time.Now()
	at := testutil.Date(2024, 5, 25)

	mockDB.ExpectInTx(func() {
		mockDB.ExpectQuery("ON CONFLICT (product_id) DO UPDATE").
			WithArgs(int64(77), int64(40)).
			WillReturnRows(testutil.MockRows("id", "avg_monthly_consumption", "created_at", "updated_at").
				AddRow(int64(12), 8.0, now, now))
		mockDB.ExpectQuery("INSERT INTO stock_movement_items").
			WithArgs(movementArgs(11)...).
			WillReturnRows(testutil.MockRows("created_at").AddRow(at))
	})

	card := &domain.StockCard{
		ProductID:   77,
		StockOnHand: 40,
		Movements: []*domain.StockMovementItem{
			{ID: "mv-1", MovementType: domain.MovementReceive, MovementQuantity: 40, StockOnHand: 40, MovementDate: at},
		},
	}
	inserted, err := repo.SaveNewStockCardWithMovements(context.Background(), card)

	require.NoError(t, err)
	assert.Equal(t, int64(12), card.ID)
	assert.Equal(t, 8.0, card.AvgMonthlyConsumption)
	require.Len(t, inserted, 1)
	assert.Equal(t, int64(12), inserted[0].StockCardID)
	mockDB.ExpectationsWereMet(t)
}

func TestStockRepository_HasAnyData(t *testing.T) {
	repo, mockDB := newStockRepo(t)

	mockDB.ExpectQuery("SELECT EXISTS(SELECT 1 FROM stock_cards)").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))

	ok, err := repo.HasAnyData(context.Background())

	require.NoError(t, err)
	assert.True(t, ok)
	mockDB.ExpectationsWereMet(t)
}
