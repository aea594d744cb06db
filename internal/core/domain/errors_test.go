package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	business := NewBusinessError("missing cpr for %s", "ref-1")
	wrapped := fmt.Errorf("operation: %w", business)

	assert.Equal(t, KindBusiness, KindOf(business))
	assert.Equal(t, KindBusiness, KindOf(wrapped))
	assert.True(t, IsBusiness(wrapped))

	assert.Equal(t, KindProcess, KindOf(errors.New("connection reset")))
	assert.False(t, IsBusiness(errors.New("connection reset")))
	assert.False(t, IsBusiness(nil))
}

func TestNewProcessError(t *testing.T) {
	cause := errors.New("window not found")
	pe := NewProcessError(cause)

	assert.Equal(t, KindProcess, pe.Kind)
	assert.Equal(t, "window not found", pe.Error())
	assert.ErrorIs(t, pe, cause)
	assert.NotEmpty(t, pe.Stack)

	// already a process error: not wrapped twice
	assert.Same(t, pe, NewProcessError(pe))

	// business errors become process errors when explicitly escalated
	escalated := NewProcessError(NewBusinessError("bad data"))
	assert.Equal(t, KindProcess, escalated.Kind)
}

func TestErrorRecord_JSON(t *testing.T) {
	rec := NewBusinessError("invalid amount").Record()
	assert.Equal(t, "BusinessError", rec.Type)
	assert.Equal(t, "invalid amount", rec.Message)

	var decoded ErrorRecord
	require.NoError(t, json.Unmarshal([]byte(rec.JSON()), &decoded))
	assert.Equal(t, rec, decoded)
}

func TestItemState_IsTerminal(t *testing.T) {
	assert.False(t, ItemStatePending.IsTerminal())
	assert.True(t, ItemStateCompleted.IsTerminal())
	assert.True(t, ItemStateFailed.IsTerminal())
	assert.True(t, ItemStatePendingUser.IsTerminal())
}

func TestCandidateItem_Eligible(t *testing.T) {
	assert.True(t, CandidateItem{Reference: "A"}.Eligible())
	assert.False(t, CandidateItem{}.Eligible())
}
