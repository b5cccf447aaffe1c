package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/matt-riley/lightswitch/diagnostics"
	"github.com/matt-riley/lightswitch/internal/logging"
	"github.com/matt-riley/lightswitch/model"
	"github.com/matt-riley/lightswitch/store"
)

// Processor keeps the data store in sync with the flag service. Exactly one
// processor runs per client.
type Processor interface {
	// Start begins the sync loop. closeWhenReady is invoked exactly once:
	// with nil on the first successful data apply, or with the error on the
	// first non-recoverable failure.
	Start(closeWhenReady func(error))
	// Initialized reports whether a full data set has been applied.
	Initialized() bool
	// Close stops the processor and abandons in-flight work. Idempotent.
	Close() error
}

// reconnectResetThreshold is how long a connection must survive before the
// reconnect backoff resets to its initial delay.
const reconnectResetThreshold = time.Minute

const errorChannelBuffer = 16

// StreamProcessor owns one SSE connection to the flag service and applies
// put/patch/delete/indirect events to the store.
type StreamProcessor struct {
	store        store.DataStore
	requestor    *Requestor
	httpClient   *http.Client
	streamURI    string
	headers      http.Header
	initialDelay time.Duration
	logger       *slog.Logger
	diag         diagnostics.Sink

	ctx    context.Context
	cancel context.CancelFunc

	initialized atomic.Bool
	readyOnce   sync.Once
	closeOnce   sync.Once
	errs        chan error

	// retryHint carries a server-sent reconnection directive, if any.
	retryHint time.Duration
}

var _ Processor = (*StreamProcessor)(nil)

// NewStreamProcessor builds a stream processor. The HTTP client should have
// no overall timeout; SSE connections are long-lived.
func NewStreamProcessor(dataStore store.DataStore, requestor *Requestor, httpClient *http.Client,
	streamURI string, headers http.Header, initialReconnectDelay time.Duration,
	logger *slog.Logger, diag diagnostics.Sink) *StreamProcessor {
	if logger == nil {
		logger = logging.Discard()
	}
	if diag == nil {
		diag = diagnostics.NoopSink{}
	}
	if initialReconnectDelay <= 0 {
		initialReconnectDelay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamProcessor{
		store:        dataStore,
		requestor:    requestor,
		httpClient:   httpClient,
		streamURI:    strings.TrimSuffix(streamURI, "/"),
		headers:      headers,
		initialDelay: initialReconnectDelay,
		logger:       logger,
		diag:         diag,
		ctx:          ctx,
		cancel:       cancel,
		errs:         make(chan error, errorChannelBuffer),
	}
}

// Start implements Processor.
func (sp *StreamProcessor) Start(closeWhenReady func(error)) {
	go sp.run(closeWhenReady)
}

// Initialized implements Processor.
func (sp *StreamProcessor) Initialized() bool { return sp.initialized.Load() }

// Errors exposes recoverable stream errors (parse failures, dropped
// connections) observed after initialization.
func (sp *StreamProcessor) Errors() <-chan error { return sp.errs }

// Close implements Processor.
func (sp *StreamProcessor) Close() error {
	sp.closeOnce.Do(sp.cancel)
	return nil
}

func (sp *StreamProcessor) run(closeWhenReady func(error)) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = sp.initialDelay
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if sp.ctx.Err() != nil {
			return
		}

		started := time.Now()
		applied, err := sp.connect(closeWhenReady)
		duration := time.Since(started)
		sp.diag.RecordStreamInit(started, !applied, duration)

		if sp.ctx.Err() != nil {
			return
		}
		if err != nil && !IsRecoverable(err) {
			sp.logger.Error("shutting down stream after unrecoverable error", "error", err)
			sp.signalReady(closeWhenReady, err)
			sp.reportError(err)
			return
		}
		if err != nil {
			sp.logger.Warn("stream interrupted; reconnecting", "error", err)
			sp.reportError(err)
		}

		if duration >= reconnectResetThreshold {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		if sp.retryHint > 0 {
			delay = sp.retryHint
		}
		select {
		case <-time.After(delay):
		case <-sp.ctx.Done():
			return
		}
	}
}

// connect opens the SSE stream and dispatches events until the connection
// drops. It reports whether any data was applied during this connection.
func (sp *StreamProcessor) connect(closeWhenReady func(error)) (bool, error) {
	req, err := http.NewRequestWithContext(sp.ctx, http.MethodGet, sp.streamURI+"/all", nil)
	if err != nil {
		return false, fmt.Errorf("lightswitch: create stream request: %w", err)
	}
	for name, values := range sp.headers {
		req.Header[name] = values
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sp.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("lightswitch: stream connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return false, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	sp.logger.Info("connected to flag stream", "uri", sp.streamURI)

	applied := false
	decoder := newEventDecoder(resp.Body)
	for {
		event, err := decoder.next()
		if err != nil {
			sp.retryHint = decoder.retry
			if sp.ctx.Err() != nil {
				return applied, nil
			}
			return applied, fmt.Errorf("lightswitch: stream read: %w", err)
		}
		if sp.handleEvent(event, closeWhenReady) {
			applied = true
		}
	}
}

// handleEvent applies one stream event to the store. Malformed payloads are
// dropped, reported, and never kill the connection. The return value says
// whether store data was applied.
func (sp *StreamProcessor) handleEvent(event streamEvent, closeWhenReady func(error)) bool {
	switch event.name {
	case "put":
		var payload struct {
			Path string  `json:"path"`
			Data allData `json:"data"`
		}
		if err := json.Unmarshal([]byte(event.data), &payload); err != nil {
			sp.reportMalformed("put", err)
			return false
		}
		return sp.applySnapshot(payload.Data, closeWhenReady)

	case "patch":
		var payload struct {
			Path string          `json:"path"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(event.data), &payload); err != nil {
			sp.reportMalformed("patch", err)
			return false
		}
		kind, _, ok := model.KindForPath(payload.Path)
		if !ok {
			sp.logger.Debug("ignoring patch for unknown path", "path", payload.Path)
			return false
		}
		item, err := kind.ParseItem(payload.Data)
		if err != nil {
			sp.reportMalformed("patch", err)
			return false
		}
		if _, err := sp.store.Upsert(kind, item); err != nil {
			sp.reportError(fmt.Errorf("lightswitch: apply patch: %w", err))
		}
		return false

	case "delete":
		var payload struct {
			Path    string `json:"path"`
			Version int    `json:"version"`
		}
		if err := json.Unmarshal([]byte(event.data), &payload); err != nil {
			sp.reportMalformed("delete", err)
			return false
		}
		kind, key, ok := model.KindForPath(payload.Path)
		if !ok {
			sp.logger.Debug("ignoring delete for unknown path", "path", payload.Path)
			return false
		}
		if _, err := sp.store.Delete(kind, key, payload.Version); err != nil {
			sp.reportError(fmt.Errorf("lightswitch: apply delete: %w", err))
		}
		return false

	case "indirect/put":
		body, err := sp.requestor.RequestAll(sp.ctx)
		if err != nil {
			sp.logger.Warn("indirect put fetch failed", "error", err)
			sp.reportError(err)
			return false
		}
		data, err := parseAllData(body)
		if err != nil {
			sp.reportMalformed("indirect/put", err)
			return false
		}
		return sp.applySnapshot(data, closeWhenReady)

	case "indirect/patch":
		path := event.data
		kind, key, ok := model.KindForPath(path)
		if !ok {
			sp.logger.Debug("ignoring indirect patch for unknown path", "path", path)
			return false
		}
		body, err := sp.requestor.RequestItem(sp.ctx, kind, key)
		if err != nil {
			sp.logger.Warn("indirect patch fetch failed", "path", path, "error", err)
			sp.reportError(err)
			return false
		}
		item, err := kind.ParseItem(body)
		if err != nil {
			sp.reportMalformed("indirect/patch", err)
			return false
		}
		if _, err := sp.store.Upsert(kind, item); err != nil {
			sp.reportError(fmt.Errorf("lightswitch: apply indirect patch: %w", err))
		}
		return false

	default:
		sp.logger.Debug("ignoring unrecognized stream event", "event", event.name)
		return false
	}
}

func (sp *StreamProcessor) applySnapshot(data allData, closeWhenReady func(error)) bool {
	if err := sp.store.Init(makeStoreData(data)); err != nil {
		sp.reportError(fmt.Errorf("lightswitch: apply snapshot: %w", err))
		return false
	}
	sp.recordStoreCounts()
	sp.initialized.Store(true)
	sp.signalReady(closeWhenReady, nil)
	return true
}

func (sp *StreamProcessor) recordStoreCounts() {
	for _, kind := range model.AllKinds() {
		if items, err := sp.store.All(kind); err == nil {
			sp.diag.SetStoreItemCount(kind.Namespace(), len(items))
		}
	}
}

func (sp *StreamProcessor) signalReady(closeWhenReady func(error), err error) {
	if closeWhenReady == nil {
		return
	}
	sp.readyOnce.Do(func() { closeWhenReady(err) })
}

func (sp *StreamProcessor) reportMalformed(eventName string, err error) {
	wrapped := fmt.Errorf("lightswitch: malformed %s event: %w", eventName, err)
	sp.logger.Error("dropping malformed stream event", "event", eventName, "error", err)
	sp.reportError(wrapped)
}

func (sp *StreamProcessor) reportError(err error) {
	select {
	case sp.errs <- err:
	default:
	}
}
