package sse

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_TopicAndWildcard(t *testing.T) {
	h := NewHub(testLogger())
	binary, cancelBinary := h.Subscribe("binary")
	defer cancelBinary()
	all, cancelAll := h.Subscribe(AllTopics)
	defer cancelAll()

	h.Publish("multiclass", Event{Type: "verdict", Data: []byte(`{"n":1}`)})
	h.Publish("binary", Event{Type: "verdict", Data: []byte(`{"n":2}`)})

	assert.Equal(t, `{"n":2}`, string((<-binary).Data))
	assert.Equal(t, `{"n":1}`, string((<-all).Data))
	assert.Equal(t, `{"n":2}`, string((<-all).Data))
	assert.Empty(t, binary)
}

func TestHub_CancelRemovesSubscriber(t *testing.T) {
	h := NewHub(testLogger())
	ch, cancel := h.Subscribe("binary")
	require.Equal(t, 1, h.SubscriberCount("binary"))

	cancel()
	cancel()
	assert.Equal(t, 0, h.SubscriberCount("binary"))
	_, ok := <-ch
	assert.False(t, ok)

	assert.NotPanics(t, func() { h.Publish("binary", Event{Type: "verdict"}) })
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub(testLogger())
	ch, cancel := h.Subscribe("binary")
	defer cancel()

	for i := 0; i < cap(ch)+10; i++ {
		h.Publish("binary", Event{Type: "verdict"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestPGListener_DispatchRoutesByOperation(t *testing.T) {
	h := NewHub(testLogger())
	ch, cancel := h.Subscribe("multiclass")
	defer cancel()

	pl := NewPGListener(nil, h, testLogger())
	pl.dispatch([]byte(`{"id":"x","operation":"multiclass","label":"attack","attack_type":"dos"}`))
	pl.dispatch([]byte(`not json`))

	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, "verdict", ev.Type)
	assert.Contains(t, string(ev.Data), `"attack_type":"dos"`)
}
