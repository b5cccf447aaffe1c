package datasource

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-riley/lightswitch/model"
	"github.com/matt-riley/lightswitch/store"
)

func newTestPollingProcessor(t *testing.T, baseURL string) (*PollingProcessor, store.DataStore) {
	t.Helper()
	dataStore := store.NewInMemory()
	requestor := NewRequestor(http.DefaultClient, baseURL, testHeaders(), nil)
	pp := NewPollingProcessor(dataStore, requestor, time.Hour, nil, nil)
	t.Cleanup(func() { _ = pp.Close() })
	return pp, dataStore
}

func pollReady(t *testing.T, pp *PollingProcessor) error {
	t.Helper()
	ready := make(chan error, 1)
	pp.Start(func(err error) { ready <- err })
	select {
	case err := <-ready:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for poll readiness")
		return nil
	}
}

func TestPollingSeedsStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sdk/latest-all", r.URL.Path)
		_, _ = w.Write([]byte(`{"flags":{"f1":{"key":"f1","version":1,"variations":[],"salt":"s"}},"segments":{}}`))
	}))
	t.Cleanup(server.Close)

	pp, dataStore := newTestPollingProcessor(t, server.URL)
	require.NoError(t, pollReady(t, pp))

	assert.True(t, pp.Initialized())
	item, err := dataStore.Get(model.Features, "f1")
	require.NoError(t, err)
	assert.NotNil(t, item)
}

func TestPollingUnrecoverableErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	pp, dataStore := newTestPollingProcessor(t, server.URL)
	err := pollReady(t, pp)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.False(t, pp.Initialized())
	assert.False(t, dataStore.Initialized())
}

func TestPollingIntervalFloor(t *testing.T) {
	dataStore := store.NewInMemory()
	requestor := NewRequestor(http.DefaultClient, "http://localhost", testHeaders(), nil)

	pp := NewPollingProcessor(dataStore, requestor, time.Second, nil, nil)
	defer pp.Close()
	assert.Equal(t, MinPollInterval, pp.interval)
}
