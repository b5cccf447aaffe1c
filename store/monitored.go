package store

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/matt-riley/lightswitch/internal/logging"
	"github.com/matt-riley/lightswitch/model"
)

// ChangeEvent describes one committed change to a monitored store.
type ChangeEvent struct {
	Kind model.DataKind
	Key  string
}

const subscriberBuffer = 16

// Monitored decorates a DataStore and publishes a ChangeEvent for every
// state-changing operation, after the inner store has committed it. No-op
// version downgrades publish nothing.
type Monitored struct {
	core   DataStore
	logger *slog.Logger

	mu      sync.Mutex
	allSubs []chan ChangeEvent
	keySubs map[string][]chan ChangeEvent
	closed  bool
}

var _ DataStore = (*Monitored)(nil)

// NewMonitored wraps core. A nil logger disables drop warnings.
func NewMonitored(core DataStore, logger *slog.Logger) *Monitored {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Monitored{
		core:    core,
		logger:  logger,
		keySubs: make(map[string][]chan ChangeEvent),
	}
}

// SubscribeAll returns a channel receiving every change. The channel is
// buffered; events are dropped (with a warning) rather than blocking the
// update path.
func (m *Monitored) SubscribeAll() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, subscriberBuffer)
	m.mu.Lock()
	m.allSubs = append(m.allSubs, ch)
	m.mu.Unlock()
	return ch
}

// Subscribe returns a channel receiving changes for a single key only.
func (m *Monitored) Subscribe(key string) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, subscriberBuffer)
	m.mu.Lock()
	m.keySubs[key] = append(m.keySubs[key], ch)
	m.mu.Unlock()
	return ch
}

// Init implements DataStore. It diffs the store contents around the init and
// publishes one event per key whose visible value changed.
func (m *Monitored) Init(data map[model.DataKind]map[string]model.Item) error {
	before := make(map[model.DataKind]map[string]model.Item, len(data))
	for _, kind := range model.AllKinds() {
		if items, err := m.core.All(kind); err == nil {
			before[kind] = items
		}
	}

	if err := m.core.Init(data); err != nil {
		return err
	}

	for _, kind := range model.AllKinds() {
		after, err := m.core.All(kind)
		if err != nil {
			continue
		}
		for key, item := range after {
			if old, ok := before[kind][key]; !ok || !reflect.DeepEqual(old, item) {
				m.publish(ChangeEvent{Kind: kind, Key: key})
			}
		}
		for key := range before[kind] {
			if _, ok := after[key]; !ok {
				m.publish(ChangeEvent{Kind: kind, Key: key})
			}
		}
	}
	return nil
}

// Get implements DataStore.
func (m *Monitored) Get(kind model.DataKind, key string) (model.Item, error) {
	return m.core.Get(kind, key)
}

// All implements DataStore.
func (m *Monitored) All(kind model.DataKind) (map[string]model.Item, error) {
	return m.core.All(kind)
}

// Upsert implements DataStore, publishing only when the write won its
// version check.
func (m *Monitored) Upsert(kind model.DataKind, item model.Item) (bool, error) {
	updated, err := m.core.Upsert(kind, item)
	if err == nil && updated {
		m.publish(ChangeEvent{Kind: kind, Key: item.GetKey()})
	}
	return updated, err
}

// Delete implements DataStore, publishing only when the tombstone was
// actually written.
func (m *Monitored) Delete(kind model.DataKind, key string, version int) (bool, error) {
	deleted, err := m.core.Delete(kind, key, version)
	if err == nil && deleted {
		m.publish(ChangeEvent{Kind: kind, Key: key})
	}
	return deleted, err
}

// Initialized implements DataStore.
func (m *Monitored) Initialized() bool { return m.core.Initialized() }

// Close implements DataStore. All subscriber channels are closed.
func (m *Monitored) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		for _, ch := range m.allSubs {
			close(ch)
		}
		for _, subs := range m.keySubs {
			for _, ch := range subs {
				close(ch)
			}
		}
		m.allSubs = nil
		m.keySubs = make(map[string][]chan ChangeEvent)
	}
	m.mu.Unlock()
	return m.core.Close()
}

func (m *Monitored) publish(event ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, ch := range m.allSubs {
		m.send(ch, event)
	}
	for _, ch := range m.keySubs[event.Key] {
		m.send(ch, event)
	}
}

func (m *Monitored) send(ch chan ChangeEvent, event ChangeEvent) {
	select {
	case ch <- event:
	default:
		m.logger.Warn("dropping store change notification for slow subscriber",
			"namespace", event.Kind.Namespace(), "key", event.Key)
	}
}
