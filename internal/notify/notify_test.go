package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilter_MatchesConjunctively(t *testing.T) {
	f := Filter{Types: []string{EventTaskCompleted}, TaskIDs: []string{"t1"}}

	require.True(t, f.Matches(Event{Type: EventTaskCompleted, TaskID: "t1"}))
	require.False(t, f.Matches(Event{Type: EventTaskFailed, TaskID: "t1"}), "wrong type should not match")
	require.False(t, f.Matches(Event{Type: EventTaskCompleted, TaskID: "t2"}), "wrong task id should not match")
}

func TestFilter_EmptyFilterMatchesEverything(t *testing.T) {
	var f Filter
	require.True(t, f.Matches(Event{Type: EventAgentSpawned}))
}

func TestHub_RecentHistoryReturnsOldestFirstBoundedToN(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < 5; i++ {
		h.Publish(Event{Type: EventTaskCreated, TaskID: string(rune('a' + i)), At: time.Now()})
	}

	recent := h.recentHistory(3)
	require.Len(t, recent, 3)
	require.Equal(t, "c", recent[0].TaskID)
	require.Equal(t, "e", recent[2].TaskID)
}

func TestHub_PublishDropsToClientsWithFullSendBuffer(t *testing.T) {
	h := NewHub(nil)
	c := &client{send: make(chan Event, 1)}
	c.send <- Event{Type: EventSystemHealth}
	h.clients[c] = true

	require.NotPanics(t, func() {
		h.Publish(Event{Type: EventTaskCreated})
	})
}
