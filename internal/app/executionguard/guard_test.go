package executionguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquire_RejectsOverPerUserCap(t *testing.T) {
	g := New(Config{PerUserInflightLimit: 1, GlobalInflightLimit: 10, SlotTTL: time.Minute}, nil)

	release, err := g.Acquire("userA", "run1")
	require.NoError(t, err)
	defer release()

	_, err = g.Acquire("userA", "run2")
	require.Error(t, err)
	require.Contains(t, err.Error(), "per-user cap")
}

func TestAcquire_ReleaseFreesSlot(t *testing.T) {
	g := New(Config{PerUserInflightLimit: 1, GlobalInflightLimit: 10, SlotTTL: time.Minute}, nil)

	release, err := g.Acquire("userA", "run1")
	require.NoError(t, err)
	release()

	_, err = g.Acquire("userA", "run2")
	require.NoError(t, err)
}

func TestAcquire_EmptyIdentifiersAreNoop(t *testing.T) {
	g := New(DefaultConfig(), nil)
	release, err := g.Acquire("", "run1")
	require.NoError(t, err)
	release()
	require.Equal(t, 0, g.Len())
}

func TestAcquire_StaleSlotsArePruned(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	g := New(Config{PerUserInflightLimit: 1, GlobalInflightLimit: 10, SlotTTL: time.Minute}, clock)

	_, err := g.Acquire("userA", "run1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = g.Acquire("userA", "run2")
	require.NoError(t, err)
}

func TestAcquire_RejectsOverGlobalCap(t *testing.T) {
	g := New(Config{PerUserInflightLimit: 10, GlobalInflightLimit: 1, SlotTTL: time.Minute}, nil)
	_, err := g.Acquire("userA", "run1")
	require.NoError(t, err)

	_, err = g.Acquire("userB", "run2")
	require.Error(t, err)
	require.Contains(t, err.Error(), "global inflight cap")
}
