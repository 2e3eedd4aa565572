package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHubRingKeepsNewest(t *testing.T) {
	h := NewEventHub(2)
	h.Publish("a", nil)
	h.Publish("b", nil)
	h.Publish("c", nil)

	got := h.Since(0)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Type)
	assert.Equal(t, "c", got[1].Type)
	assert.Equal(t, []byte("{}"), got[0].Data)

	got = h.Since(2)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)
}

func TestEventHubSubscribe(t *testing.T) {
	h := NewEventHub(4)
	ch, cancel := h.Subscribe()

	h.Publish("x", map[string]int{"n": 1})
	ev := <-ch
	assert.Equal(t, "x", ev.Type)
	assert.JSONEq(t, `{"n":1}`, string(ev.Data))

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	h.Publish("y", nil)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(7), parseLastEventID("7"))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(0), parseLastEventID("x"))
}
