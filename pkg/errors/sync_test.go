package errors_test

import (
	"fmt"
	"testing"

	apperrors "github.com/fieldlmis/stocksync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Kind
	}{
		{"transport", apperrors.Transport(fmt.Errorf("dial tcp: refused"), "fetch catalog"), apperrors.KindTransport},
		{"missing precondition", apperrors.MissingPrecondition(apperrors.ErrNoFacility, "catalog"), apperrors.KindMissingPrecondition},
		{"malformed", apperrors.Malformed(nil, "requisitions"), apperrors.KindMalformedResponse},
		{"persistence", apperrors.Persistence(fmt.Errorf("disk full"), "save"), apperrors.KindPersistence},
		{"wrapped twice", fmt.Errorf("outer: %w", apperrors.Persistence(fmt.Errorf("x"), "save")), apperrors.KindPersistence},
		{"plain error", fmt.Errorf("boom"), apperrors.KindUnknown},
		{"nil", nil, apperrors.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperrors.KindOf(tt.err))
		})
	}
}

func TestInStage(t *testing.T) {
	t.Run("keeps kind and cause", func(t *testing.T) {
		base := apperrors.MissingPrecondition(apperrors.ErrNoFacility, "user has no facility code")
		staged := apperrors.InStage("catalog", base)

		assert.Equal(t, "catalog", staged.Stage)
		assert.Equal(t, apperrors.KindMissingPrecondition, staged.Kind)
		assert.ErrorIs(t, staged, apperrors.ErrNoFacility)
		assert.Empty(t, base.Stage, "original must not be mutated")
		assert.Equal(t, "catalog: user has no facility code: user has no facility", staged.Error())
	})

	t.Run("unknown errors are classified", func(t *testing.T) {
		staged := apperrors.InStage("requisitions", fmt.Errorf("boom"))
		require.NotNil(t, staged)
		assert.Equal(t, apperrors.KindUnknown, staged.Kind)
	})
}

func TestSyncError_Retryable(t *testing.T) {
	assert.True(t, apperrors.Transport(nil, "x").Retryable())
	assert.True(t, apperrors.Persistence(nil, "x").Retryable())
	assert.False(t, apperrors.MissingPrecondition(nil, "x").Retryable())
}

func TestMalformed_DefaultsCause(t *testing.T) {
	err := apperrors.Malformed(nil, "empty body")
	assert.ErrorIs(t, err, apperrors.ErrMalformedResponse)
}
