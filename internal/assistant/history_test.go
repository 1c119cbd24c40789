package assistant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHistoryKeepsLastTurns(t *testing.T) {
	h := newHistory(2, 2, time.Hour)
	now := time.Now()

	h.add(1, turn{question: "q1", answer: "a1"}, now)
	h.add(1, turn{question: "q2", answer: "a2"}, now)
	h.add(1, turn{question: "q3", answer: "a3"}, now)

	require.Equal(t, []turn{{"q2", "a2"}, {"q3", "a3"}}, h.get(1, now))
}

func TestHistoryExpiresIdleChats(t *testing.T) {
	h := newHistory(2, 2, time.Hour)
	now := time.Now()

	h.add(1, turn{question: "q", answer: "a"}, now)

	require.Nil(t, h.get(1, now.Add(2*time.Hour)))
}

func TestHistoryEvictsLeastRecentlyUsed(t *testing.T) {
	h := newHistory(2, 2, time.Hour)
	now := time.Now()

	h.add(1, turn{question: "q1"}, now)
	h.add(2, turn{question: "q2"}, now)
	require.NotNil(t, h.get(1, now))

	h.add(3, turn{question: "q3"}, now)

	require.NotNil(t, h.get(1, now))
	require.Nil(t, h.get(2, now))
	require.NotNil(t, h.get(3, now))
}

func TestHistoryReset(t *testing.T) {
	h := newHistory(2, 2, time.Hour)
	now := time.Now()

	h.add(1, turn{question: "q"}, now)
	h.reset(1)

	require.Nil(t, h.get(1, now))
}

func TestNilHistoryIsNoop(t *testing.T) {
	var h *history

	h.add(1, turn{question: "q"}, time.Now())
	h.reset(1)
	require.Nil(t, h.get(1, time.Now()))
}
