package ir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotHashStable(t *testing.T) {
	body := Object{
		"data":   Object{"count": Int(1)},
		"system": Object{"status": String("idle")},
	}

	first, err := SnapshotHash(body)
	require.NoError(t, err)
	second, err := SnapshotHash(body)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestSnapshotHashSensitive(t *testing.T) {
	a, err := SnapshotHash(Object{"data": Object{"count": Int(1)}})
	require.NoError(t, err)
	b, err := SnapshotHash(Object{"data": Object{"count": Int(2)}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDomainSeparation(t *testing.T) {
	body := Object{"name": String("x")}

	snap, err := SnapshotHash(body)
	require.NoError(t, err)
	flow, err := FlowHash(body)
	require.NoError(t, err)
	assert.NotEqual(t, snap, flow, "same bytes under different domains must hash differently")
}

func TestSeedFromIntent(t *testing.T) {
	seed := SeedFromIntent("0190a8b2-1111-7000-8000-000000000001")

	assert.Equal(t, seed, SeedFromIntent("0190a8b2-1111-7000-8000-000000000001"))
	assert.GreaterOrEqual(t, seed, int64(0))
	assert.NotEqual(t, seed, SeedFromIntent("0190a8b2-1111-7000-8000-000000000002"))
}

func TestSeedFromIntentNeverNegative(t *testing.T) {
	// The digest's top bit is discarded, so no id can produce a
	// negative seed, including ones whose high bits are all set.
	for i := 0; i < 4096; i++ {
		assert.GreaterOrEqual(t, SeedFromIntent(fmt.Sprintf("intent-%d", i)), int64(0))
	}
}
