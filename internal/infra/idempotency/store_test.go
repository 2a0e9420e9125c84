package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"novacore/internal/infra/persistence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kit := persistence.New(t.TempDir())
	return New(kit)
}

func TestReserve_FirstCallStarts(t *testing.T) {
	s := newTestStore(t)
	res, err := s.Reserve(ReserveInput{UserContextID: "alice", Prompt: "do the thing"})
	require.NoError(t, err)
	require.Equal(t, ReserveStarted, res.Status)
	require.Contains(t, res.Key, "mission-build:alice:")
}

func TestReserve_SecondCallWithinTTLReturnsPending(t *testing.T) {
	s := newTestStore(t)
	input := ReserveInput{UserContextID: "alice", Prompt: "do the thing"}
	_, err := s.Reserve(input)
	require.NoError(t, err)

	res, err := s.Reserve(input)
	require.NoError(t, err)
	require.Equal(t, ReservePending, res.Status)
	require.GreaterOrEqual(t, res.RetryAfterMs, minRetryMs)
}

func TestFinalize_ThenReserveReturnsCompleted(t *testing.T) {
	s := newTestStore(t)
	input := ReserveInput{UserContextID: "alice", Prompt: "do the thing"}
	first, err := s.Reserve(input)
	require.NoError(t, err)

	err = s.Finalize(FinalizeInput{UserContextID: "alice", Key: first.Key, OK: true, Result: map[string]any{"id": "m1"}})
	require.NoError(t, err)

	second, err := s.Reserve(input)
	require.NoError(t, err)
	require.Equal(t, ReserveCompleted, second.Status)
	require.Equal(t, "m1", second.Result["id"])
}

func TestFinalize_UnknownKeyIsNoop(t *testing.T) {
	s := newTestStore(t)
	err := s.Finalize(FinalizeInput{UserContextID: "alice", Key: "bogus", OK: true})
	require.NoError(t, err)
}

func TestReserve_DifferentUsersDoNotShareReservations(t *testing.T) {
	s := newTestStore(t)
	inputA := ReserveInput{UserContextID: "alice", Prompt: "same prompt"}
	inputB := ReserveInput{UserContextID: "bob", Prompt: "same prompt"}

	resA, err := s.Reserve(inputA)
	require.NoError(t, err)
	resB, err := s.Reserve(inputB)
	require.NoError(t, err)

	require.Equal(t, ReserveStarted, resA.Status)
	require.Equal(t, ReserveStarted, resB.Status)
	require.NotEqual(t, resA.Key, resB.Key)
}

func TestNormalizePrompt_CollapsesWhitespaceAndCase(t *testing.T) {
	require.Equal(t, "hello world", NormalizePrompt("  Hello   World  "))
}

func TestResolveKey_IgnoresClientProvidedKey(t *testing.T) {
	input := ReserveInput{UserContextID: "alice", Prompt: "x"}
	k1 := ResolveKey(input)
	k2 := ResolveKey(input)
	require.Equal(t, k1, k2)
}

func TestReserve_ExpiredPendingAllowsNewReservation(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	input := ReserveInput{UserContextID: "alice", Prompt: "x"}
	_, err := s.Reserve(input)
	require.NoError(t, err)

	s.now = func() time.Time { return fixed.Add(pendingTTL + time.Second) }
	res, err := s.Reserve(input)
	require.NoError(t, err)
	require.Equal(t, ReserveStarted, res.Status)
}
