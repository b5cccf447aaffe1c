package datasource

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-riley/lightswitch/diagnostics"
	"github.com/matt-riley/lightswitch/internal/logging"
	"github.com/matt-riley/lightswitch/model"
	"github.com/matt-riley/lightswitch/store"
)

// MinPollInterval is the floor for the polling interval; shorter configured
// values are raised to it.
const MinPollInterval = 30 * time.Second

// PollingProcessor periodically fetches full snapshots when streaming is
// disabled.
type PollingProcessor struct {
	store     store.DataStore
	requestor *Requestor
	interval  time.Duration
	logger    *slog.Logger
	diag      diagnostics.Sink

	ctx    context.Context
	cancel context.CancelFunc

	initialized atomic.Bool
	readyOnce   sync.Once
	closeOnce   sync.Once
}

var _ Processor = (*PollingProcessor)(nil)

// NewPollingProcessor builds a polling processor with the interval floored
// at MinPollInterval.
func NewPollingProcessor(dataStore store.DataStore, requestor *Requestor, interval time.Duration,
	logger *slog.Logger, diag diagnostics.Sink) *PollingProcessor {
	if logger == nil {
		logger = logging.Discard()
	}
	if diag == nil {
		diag = diagnostics.NoopSink{}
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PollingProcessor{
		store:     dataStore,
		requestor: requestor,
		interval:  interval,
		logger:    logger,
		diag:      diag,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start implements Processor.
func (pp *PollingProcessor) Start(closeWhenReady func(error)) {
	go pp.run(closeWhenReady)
}

// Initialized implements Processor.
func (pp *PollingProcessor) Initialized() bool { return pp.initialized.Load() }

// Close implements Processor.
func (pp *PollingProcessor) Close() error {
	pp.closeOnce.Do(pp.cancel)
	return nil
}

func (pp *PollingProcessor) run(closeWhenReady func(error)) {
	ticker := time.NewTicker(pp.interval)
	defer ticker.Stop()

	for {
		if terminal := pp.poll(closeWhenReady); terminal {
			return
		}
		select {
		case <-ticker.C:
		case <-pp.ctx.Done():
			return
		}
	}
}

// poll runs one snapshot fetch. It returns true when the processor should
// stop permanently.
func (pp *PollingProcessor) poll(closeWhenReady func(error)) bool {
	body, err := pp.requestor.RequestAll(pp.ctx)
	if err != nil {
		if pp.ctx.Err() != nil {
			return true
		}
		if !IsRecoverable(err) {
			pp.logger.Error("shutting down poller after unrecoverable error", "error", err)
			pp.signalReady(closeWhenReady, err)
			return true
		}
		pp.logger.Warn("snapshot poll failed; will retry", "error", err)
		return false
	}

	data, err := parseAllData(body)
	if err != nil {
		pp.logger.Error("snapshot response was malformed", "error", err)
		return false
	}
	if err := pp.store.Init(makeStoreData(data)); err != nil {
		pp.logger.Error("could not apply snapshot to store", "error", err)
		return false
	}

	for _, kind := range model.AllKinds() {
		if items, allErr := pp.store.All(kind); allErr == nil {
			pp.diag.SetStoreItemCount(kind.Namespace(), len(items))
		}
	}
	pp.initialized.Store(true)
	pp.signalReady(closeWhenReady, nil)
	return false
}

func (pp *PollingProcessor) signalReady(closeWhenReady func(error), err error) {
	if closeWhenReady == nil {
		return
	}
	pp.readyOnce.Do(func() { closeWhenReady(err) })
}
