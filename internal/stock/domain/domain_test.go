package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedQuantity(t *testing.T) {
	tests := []struct {
		movement MovementType
		quantity int64
		want     int64
	}{
		{MovementReceive, 10, 10},
		{MovementPositiveAdjust, 3, 3},
		{MovementIssue, 4, -4},
		{MovementNegativeAdjust, 2, -2},
		{MovementPhysicalInventory, -7, -7},
		{MovementPhysicalInventory, 5, 5},
	}

	for _, tt := range tests {
		t.Run(string(tt.movement), func(t *testing.T) {
			got, err := SignedQuantity(tt.movement, tt.quantity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SignedQuantity("TRANSFER", 1)
	assert.Error(t, err)

	_, err = SignedQuantity(MovementIssue, -3)
	assert.Error(t, err, "only physical inventory carries a sign")
}

func TestMovementType_Valid(t *testing.T) {
	assert.True(t, MovementIssue.Valid())
	assert.True(t, MovementPhysicalInventory.Valid())
	assert.False(t, MovementType("issue").Valid())
	assert.False(t, MovementType("").Valid())
}

func TestLevelThresholds_Classify(t *testing.T) {
	th := DefaultLevelThresholds

	tests := []struct {
		name string
		soh  int64
		amc  float64
		want StockLevel
	}{
		{"zero on hand is stock out", 0, 100, LevelStockOut},
		{"zero on hand with unset amc", 0, AMCUnset, LevelStockOut},
		{"unset amc is normal", 500, AMCUnset, LevelNormal},
		{"above twice amc is over", 201, 100, LevelOver},
		{"exactly twice amc is normal", 200, 100, LevelNormal},
		{"below ceil of 5 percent is low", 4, 100, LevelLow},
		{"at ceil of 5 percent is normal", 5, 100, LevelNormal},
		{"ceil rounds up fractional threshold", 1, 30, LevelLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(tt.soh, tt.amc))
		})
	}
}

func TestStockCard_HasAMC(t *testing.T) {
	assert.False(t, (&StockCard{AvgMonthlyConsumption: AMCUnset}).HasAMC())
	assert.True(t, (&StockCard{AvgMonthlyConsumption: 0}).HasAMC())
}
