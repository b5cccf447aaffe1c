package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-riley/lightswitch/model"
)

func testHeaders() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "sdk-test-key")
	h.Set("User-Agent", "TestClient/0.0.0")
	return h
}

func TestRequestAllSendsDefaultHeaders(t *testing.T) {
	var gotAuth, gotAgent, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"flags":{},"segments":{}}`))
	}))
	t.Cleanup(server.Close)

	r := NewRequestor(server.Client(), server.URL, testHeaders(), nil)
	body, err := r.RequestAll(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"flags":{},"segments":{}}`, string(body))
	assert.Equal(t, "sdk-test-key", gotAuth)
	assert.Equal(t, "TestClient/0.0.0", gotAgent)
	assert.Equal(t, "/sdk/latest-all", gotPath)
}

func TestRequestItemUsesKindPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flags/my-flag":
			_, _ = w.Write([]byte(`{"key":"my-flag","version":1}`))
		case "/segments/my-segment":
			_, _ = w.Write([]byte(`{"key":"my-segment","version":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	r := NewRequestor(server.Client(), server.URL, testHeaders(), nil)

	body, err := r.RequestItem(context.Background(), model.Features, "my-flag")
	require.NoError(t, err)
	assert.Contains(t, string(body), "my-flag")

	body, err = r.RequestItem(context.Background(), model.Segments, "my-segment")
	require.NoError(t, err)
	assert.Contains(t, string(body), "my-segment")
}

func TestRequestorETagCache(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"flags":{"f":{"key":"f","version":1}},"segments":{}}`))
	}))
	t.Cleanup(server.Close)

	r := NewRequestor(server.Client(), server.URL, testHeaders(), nil)

	first, err := r.RequestAll(context.Background())
	require.NoError(t, err)

	second, err := r.RequestAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second, "304 responses are served from the cached body")
	assert.Equal(t, int32(2), requests.Load())
}

func TestRequestorStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid sdk key", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	r := NewRequestor(server.Client(), server.URL, testHeaders(), nil)
	_, err := r.RequestAll(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Equal(t, "invalid sdk key", statusErr.Message)
}

func TestRequestorCoalescesConcurrentRequests(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"flags":{},"segments":{}}`))
	}))
	t.Cleanup(server.Close)

	r := NewRequestor(server.Client(), server.URL, testHeaders(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.RequestAll(context.Background())
			assert.NoError(t, err)
		}()
	}

	// Let the goroutines pile up behind the first request, then release it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), requests.Load(), "identical in-flight requests must share one fetch")
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport error", context.DeadlineExceeded, true},
		{"500", &StatusError{Code: 500}, true},
		{"503", &StatusError{Code: 503}, true},
		{"408", &StatusError{Code: 408}, true},
		{"429", &StatusError{Code: 429}, true},
		{"401", &StatusError{Code: 401}, false},
		{"403", &StatusError{Code: 403}, false},
		{"400", &StatusError{Code: 400}, false},
		{"404", &StatusError{Code: 404}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
		})
	}
}
