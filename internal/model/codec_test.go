package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEntry_PreservesVariantShape(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []Entry{
		&Create{
			Stamp:             Stamp{Timestamp: ts},
			WorkerID:          NewWorkerID("comp", "w1"),
			ComponentRevision: 2,
			Args:              []string{"a"},
			Env:               map[string]string{"K": "V"},
		},
		&ImportedFunctionInvoked{
			Stamp:               Stamp{Timestamp: ts},
			FunctionName:        "http::send",
			Request:             InlinePayload([]byte("in")),
			Response:            ExternalPayload(uuid.MustParse("0195a2e4-7b1c-7cc2-9a55-0b5f1bd0b7a1"), []byte{1, 2, 3}),
			DurableFunctionType: WriteRemoteBatchedFunction(4),
		},
		&EndRemoteWrite{Stamp: Stamp{Timestamp: ts}, BeginIndex: 4},
		&Jump{Stamp: Stamp{Timestamp: ts}, Jump: OplogRegion{Start: 2, End: 5}},
		&ChangePersistenceLevel{Stamp: Stamp{Timestamp: ts}, Level: PersistNothing},
		&RolledBackRemoteTransaction{Stamp: Stamp{Timestamp: ts}, BeginIndex: 8},
	}

	for _, e := range entries {
		t.Run(string(e.Kind()), func(t *testing.T) {
			data, err := EncodeEntry(e)
			require.NoError(t, err)

			decoded, err := DecodeEntry(data)
			require.NoError(t, err)
			assert.Equal(t, e, decoded)
		})
	}
}

func TestDecodeEntry_RejectsUnknownKind(t *testing.T) {
	_, err := DecodeEntry([]byte(`{"v":1,"kind":"Teleport","entry":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestDecodeEntry_RejectsFutureVersion(t *testing.T) {
	_, err := DecodeEntry([]byte(`{"v":2,"kind":"NoOp","entry":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestEncodeEntries_RoundTripsChunk(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	chunk := []Entry{
		&NoOp{Stamp: Stamp{Timestamp: ts}},
		&GrowMemory{Stamp: Stamp{Timestamp: ts}, Delta: 65536},
	}

	data, err := EncodeEntries(chunk)
	require.NoError(t, err)

	decoded, err := DecodeEntries(data)
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)
}
