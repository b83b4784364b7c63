package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerID_KeyRoundTrip(t *testing.T) {
	id := NewWorkerID("shopping-cart", "user-42")

	key := id.Key()
	assert.Equal(t, "shopping-cart:user-42", key)

	back, err := WorkerIDFromKey("shopping-cart", key)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = WorkerIDFromKey("other", key)
	assert.Error(t, err)
}

func TestWorkerID_NFCNormalizesNames(t *testing.T) {
	composed := NewWorkerID("c", "caf\u00e9")
	decomposed := NewWorkerID("c", "cafe\u0301")

	assert.Equal(t, composed.Key(), decomposed.Key())
}

func TestParseWorkerID(t *testing.T) {
	id, err := ParseWorkerID("comp:name:with:colons")
	require.NoError(t, err)
	assert.Equal(t, ComponentID("comp"), id.ComponentID)
	assert.Equal(t, "name:with:colons", id.WorkerName)

	_, err = ParseWorkerID("no-separator")
	assert.Error(t, err)
}

func TestOplogIndex_Arithmetic(t *testing.T) {
	assert.Equal(t, OplogIndex(2), InitialIndex.Next())
	assert.Equal(t, NoneIndex, InitialIndex.Previous())
	assert.Equal(t, NoneIndex, NoneIndex.Previous())
	assert.Equal(t, OplogIndex(14), OplogIndex(10).RangeEnd(5))
	assert.Equal(t, OplogIndex(9), OplogIndex(10).RangeEnd(0))
	assert.Equal(t, OplogIndex(7), OplogIndex(10).Subtract(3))
	assert.Equal(t, NoneIndex, OplogIndex(2).Subtract(3))
	assert.True(t, OplogRegion{Start: 2, End: 4}.Contains(4))
	assert.False(t, OplogRegion{Start: 2, End: 4}.Contains(5))
}
