// Package datasource implements the components that keep the local data
// store in sync with the flag service: an on-demand REST requestor, a
// server-sent-events streaming processor, and a polling fallback.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/matt-riley/lightswitch/internal/logging"
	"github.com/matt-riley/lightswitch/model"
)

// StatusError is returned when the flag service responds with an HTTP error
// status. Its code drives the recoverable/non-recoverable classification.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lightswitch: HTTP %d: %s", e.Code, e.Message)
}

// IsRecoverable classifies an error from the requestor or the stream.
// Transport errors and 5xx/408/429 statuses are worth retrying; any other
// 4xx (bad SDK key, bad request) is terminal.
func IsRecoverable(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return true
	}
	code := statusErr.Code
	if code >= 400 && code < 500 {
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}
	return true
}

// allData is the wire shape of a full data snapshot.
type allData struct {
	Flags    map[string]*model.FeatureFlag `json:"flags"`
	Segments map[string]*model.Segment     `json:"segments"`
}

// makeStoreData converts a snapshot into the store's init format.
func makeStoreData(data allData) map[model.DataKind]map[string]model.Item {
	flags := make(map[string]model.Item, len(data.Flags))
	for key, flag := range data.Flags {
		flags[key] = flag
	}
	segments := make(map[string]model.Item, len(data.Segments))
	for key, segment := range data.Segments {
		segments[key] = segment
	}
	return map[model.DataKind]map[string]model.Item{
		model.Features: flags,
		model.Segments: segments,
	}
}

type cachedResponse struct {
	etag string
	body []byte
}

// Requestor fetches flag data over REST. Identical in-flight requests are
// coalesced, and conditional requests are served from a per-URL ETag cache.
type Requestor struct {
	httpClient *http.Client
	baseURI    string
	headers    http.Header
	logger     *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cachedResponse
}

// NewRequestor builds a Requestor. headers are applied to every request.
func NewRequestor(httpClient *http.Client, baseURI string, headers http.Header, logger *slog.Logger) *Requestor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Requestor{
		httpClient: httpClient,
		baseURI:    strings.TrimSuffix(baseURI, "/"),
		headers:    headers,
		logger:     logger,
		cache:      make(map[string]cachedResponse),
	}
}

// RequestAll fetches the full flag and segment snapshot.
func (r *Requestor) RequestAll(ctx context.Context) ([]byte, error) {
	return r.fetch(ctx, r.baseURI+"/sdk/latest-all")
}

// RequestItem fetches a single item of the given kind.
func (r *Requestor) RequestItem(ctx context.Context, kind model.DataKind, key string) ([]byte, error) {
	return r.fetch(ctx, r.baseURI+kind.StreamAPIPath()+key)
}

func (r *Requestor) fetch(ctx context.Context, url string) ([]byte, error) {
	body, err, _ := r.group.Do(url, func() (any, error) {
		return r.doRequest(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

func (r *Requestor) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("lightswitch: create request: %w", err)
	}
	for name, values := range r.headers {
		req.Header[name] = values
	}

	r.mu.Lock()
	cached, haveCached := r.cache[url]
	r.mu.Unlock()
	if haveCached {
		req.Header.Set("If-None-Match", cached.etag)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lightswitch: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && haveCached {
		r.logger.Debug("serving flag data from etag cache", "url", url)
		return cached.body, nil
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lightswitch: read response: %w", err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		r.mu.Lock()
		r.cache[url] = cachedResponse{etag: etag, body: body}
		r.mu.Unlock()
	}
	return body, nil
}

func parseAllData(body []byte) (allData, error) {
	var data allData
	if err := json.Unmarshal(body, &data); err != nil {
		return allData{}, fmt.Errorf("lightswitch: decode snapshot: %w", err)
	}
	return data, nil
}
