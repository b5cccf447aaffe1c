package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-riley/lightswitch/model"
)

func recvChange(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
		return ChangeEvent{}
	}
}

func assertNoChange(t *testing.T, ch <-chan ChangeEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected change event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitoredPublishesCommittedUpserts(t *testing.T) {
	m := NewMonitored(NewInMemory(), nil)
	all := m.SubscribeAll()
	keyed := m.Subscribe("f")

	updated, err := m.Upsert(model.Features, makeFlag("f", 2))
	require.NoError(t, err)
	require.True(t, updated)

	ev := recvChange(t, all)
	assert.Equal(t, model.Features, ev.Kind)
	assert.Equal(t, "f", ev.Key)
	assert.Equal(t, ev, recvChange(t, keyed))

	// Losing writes publish nothing.
	updated, err = m.Upsert(model.Features, makeFlag("f", 1))
	require.NoError(t, err)
	require.False(t, updated)
	assertNoChange(t, all)
	assertNoChange(t, keyed)
}

func TestMonitoredPublishesDeletes(t *testing.T) {
	m := NewMonitored(NewInMemory(), nil)
	_, err := m.Upsert(model.Features, makeFlag("f", 1))
	require.NoError(t, err)

	ch := m.Subscribe("f")
	deleted, err := m.Delete(model.Features, "f", 2)
	require.NoError(t, err)
	require.True(t, deleted)
	assert.Equal(t, "f", recvChange(t, ch).Key)

	// Stale delete is a no-op and silent.
	deleted, err = m.Delete(model.Features, "f", 2)
	require.NoError(t, err)
	require.False(t, deleted)
	assertNoChange(t, ch)
}

func TestMonitoredInitPublishesDiff(t *testing.T) {
	m := NewMonitored(NewInMemory(), nil)
	require.NoError(t, m.Init(map[model.DataKind]map[string]model.Item{
		model.Features: {"kept": makeFlag("kept", 1), "dropped": makeFlag("dropped", 1)},
	}))

	ch := m.SubscribeAll()
	require.NoError(t, m.Init(map[model.DataKind]map[string]model.Item{
		model.Features: {"kept": makeFlag("kept", 1), "added": makeFlag("added", 1)},
	}))

	keys := map[string]bool{}
	keys[recvChange(t, ch).Key] = true
	keys[recvChange(t, ch).Key] = true
	assert.Equal(t, map[string]bool{"added": true, "dropped": true}, keys)
	assertNoChange(t, ch)
}

func TestMonitoredCloseClosesSubscribers(t *testing.T) {
	m := NewMonitored(NewInMemory(), nil)
	ch := m.SubscribeAll()
	require.NoError(t, m.Close())

	_, open := <-ch
	assert.False(t, open)

	// Close is idempotent.
	require.NoError(t, m.Close())
}
