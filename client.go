package lightswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/matt-riley/lightswitch/diagnostics"
	"github.com/matt-riley/lightswitch/events"
	"github.com/matt-riley/lightswitch/internal/datasource"
	"github.com/matt-riley/lightswitch/internal/evaluation"
	"github.com/matt-riley/lightswitch/internal/logging"
	"github.com/matt-riley/lightswitch/model"
	"github.com/matt-riley/lightswitch/store"
)

var (
	// ErrMissingSDKKey is returned by MakeClient when no SDK key is given
	// and the client is not offline.
	ErrMissingSDKKey = errors.New("sdk key is required when not in offline mode")
	// ErrClientNotReady is returned by evaluations that ran before the
	// client received any flag data.
	ErrClientNotReady = errors.New("client is not yet initialized")
)

// Client is the Lightswitch SDK client. It is safe for concurrent use; one
// Client should be shared across the whole process.
type Client struct {
	sdkKey     string
	config     Config
	instanceID string
	logger     *slog.Logger

	store      *store.Monitored
	dataSource datasource.Processor
	eventSink  events.Sink
	diag       diagnostics.Sink

	evaluator            *evaluation.Evaluator
	evaluatorWithReasons *evaluation.Evaluator
	eventFactory         events.Factory
	eventFactoryReasons  events.Factory

	// initErr is written at most once, before ready is closed.
	ready   chan struct{}
	initErr error

	closeOnce sync.Once
}

// MakeClient constructs a Client and starts its data source. It returns as
// soon as the connection attempt is underway; use WaitForInitialization to
// block until flag data has arrived.
func MakeClient(sdkKey string, config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if sdkKey == "" && !config.Offline {
		return nil, ErrMissingSDKKey
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.New(config.LogLevel)
	}
	instanceID := uuid.NewString()

	diag := config.Diagnostics
	if diag == nil {
		if config.DiagnosticOptOut {
			diag = diagnostics.NoopSink{}
		} else {
			diag = diagnostics.NewPrometheus(instanceID)
		}
	}

	inner := config.DataStore
	if inner == nil {
		inner = store.NewInMemory()
	}
	monitored := store.NewMonitored(inner, logger)

	sink := config.EventSink
	if sink == nil || !config.SendEvents {
		sink = events.NoopSink{}
	}

	provider := &storeProvider{store: monitored, logger: logger}
	factory := events.NewFactory(false)
	factoryReasons := events.NewFactory(true)

	c := &Client{
		sdkKey:               sdkKey,
		config:               config,
		instanceID:           instanceID,
		logger:               logger,
		store:                monitored,
		eventSink:            sink,
		diag:                 diag,
		evaluator:            evaluation.NewEvaluator(provider, factory, logger),
		evaluatorWithReasons: evaluation.NewEvaluator(provider, factoryReasons, logger),
		eventFactory:         factory,
		eventFactoryReasons:  factoryReasons,
		ready:                make(chan struct{}),
	}

	switch {
	case config.Offline:
		logger.Info("starting in offline mode; no connection will be made")
		close(c.ready)
	case config.DaemonMode:
		logger.Info("starting in daemon mode; the data store is populated externally")
		close(c.ready)
	default:
		headers := c.defaultHeaders()
		requestor := datasource.NewRequestor(config.newHTTPClient(config.Timeout),
			config.BaseURI, headers, logger)
		if config.Stream {
			c.dataSource = datasource.NewStreamProcessor(monitored, requestor,
				config.newHTTPClient(0), config.StreamURI, headers,
				config.StreamInitialReconnectDelay, logger, diag)
		} else {
			logger.Info("streaming is disabled; the client will poll for updates",
				"interval", config.PollInterval)
			c.dataSource = datasource.NewPollingProcessor(monitored, requestor,
				config.PollInterval, logger, diag)
		}
		c.dataSource.Start(func(err error) {
			c.initErr = err
			close(c.ready)
		})
	}
	return c, nil
}

func (c *Client) defaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("Authorization", c.sdkKey)
	h.Set("User-Agent", "LightswitchGoClient/"+Version)
	h.Set("X-Lightswitch-Instance-Id", c.instanceID)
	if c.config.WrapperName != "" {
		wrapper := c.config.WrapperName
		if c.config.WrapperVersion != "" {
			wrapper += "/" + c.config.WrapperVersion
		}
		h.Set("X-Lightswitch-Wrapper", wrapper)
	}
	return h
}

// Initialized reports whether the client has received a full set of flag
// data. Offline and daemon-mode clients are initialized immediately.
func (c *Client) Initialized() bool {
	if c.dataSource == nil {
		return true
	}
	return c.dataSource.Initialized()
}

// WaitForInitialization blocks until the client is initialized, the data
// source fails permanently, or ctx is done. A permanent failure (for
// example an invalid SDK key) is returned as its underlying error.
func (c *Client) WaitForInitialization(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the data source and releases the store and event sink.
// Idempotent; evaluations after Close see an empty store.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info("closing client")
		if c.dataSource != nil {
			err = errors.Join(err, c.dataSource.Close())
		}
		err = errors.Join(err, c.store.Close())
		err = errors.Join(err, c.eventSink.Close())
	})
	return err
}

// Flush asks the event sink to deliver any buffered events now.
func (c *Client) Flush() { c.eventSink.Flush() }

// FlagUpdates returns a channel receiving a notification for every committed
// change to the local flag data. The channel closes when the client closes.
func (c *Client) FlagUpdates() <-chan store.ChangeEvent { return c.store.SubscribeAll() }

// FlagUpdatesForKey is FlagUpdates restricted to a single item key.
func (c *Client) FlagUpdatesForKey(key string) <-chan store.ChangeEvent {
	return c.store.Subscribe(key)
}

// Variation evaluates a flag for a user and returns the resulting value, or
// defaultVal when the flag is missing or evaluation fails.
func (c *Client) Variation(key string, user model.User, defaultVal any) (any, error) {
	detail, err := c.evaluate(key, user, defaultVal, c.evaluator, c.eventFactory)
	return detail.Value, err
}

// VariationDetail is Variation plus the variation index and the reason the
// value was chosen.
func (c *Client) VariationDetail(key string, user model.User, defaultVal any) (model.EvaluationDetail, error) {
	return c.evaluate(key, user, defaultVal, c.evaluatorWithReasons, c.eventFactoryReasons)
}

// BoolVariation is Variation with a bool result. A non-bool flag value
// yields the default and an error.
func (c *Client) BoolVariation(key string, user model.User, defaultVal bool) (bool, error) {
	value, err := c.Variation(key, user, defaultVal)
	b, ok := value.(bool)
	if !ok {
		return defaultVal, c.wrongType(key, value, "bool", err)
	}
	return b, err
}

// IntVariation is Variation with an int result. Whole float64 values are
// accepted, since JSON numbers decode as float64.
func (c *Client) IntVariation(key string, user model.User, defaultVal int) (int, error) {
	value, err := c.Variation(key, user, defaultVal)
	switch v := value.(type) {
	case int:
		return v, err
	case float64:
		if v == float64(int(v)) {
			return int(v), err
		}
	}
	return defaultVal, c.wrongType(key, value, "int", err)
}

// Float64Variation is Variation with a float64 result.
func (c *Client) Float64Variation(key string, user model.User, defaultVal float64) (float64, error) {
	value, err := c.Variation(key, user, defaultVal)
	switch v := value.(type) {
	case float64:
		return v, err
	case int:
		return float64(v), err
	}
	return defaultVal, c.wrongType(key, value, "float64", err)
}

// StringVariation is Variation with a string result.
func (c *Client) StringVariation(key string, user model.User, defaultVal string) (string, error) {
	value, err := c.Variation(key, user, defaultVal)
	s, ok := value.(string)
	if !ok {
		return defaultVal, c.wrongType(key, value, "string", err)
	}
	return s, err
}

// JSONVariation is Variation for flags whose variations are arbitrary JSON
// structures. The result aliases the evaluated copy and may be retained.
func (c *Client) JSONVariation(key string, user model.User, defaultVal any) (any, error) {
	return c.Variation(key, user, defaultVal)
}

func (c *Client) wrongType(key string, value any, wantType string, evalErr error) error {
	if evalErr != nil {
		return evalErr
	}
	c.diag.RecordEvaluation(string(model.EvalReasonError))
	return fmt.Errorf("flag %q value %v (%T) is not a %s", key, value, value, wantType)
}

func (c *Client) evaluate(key string, user model.User, defaultVal any,
	ev *evaluation.Evaluator, factory events.Factory) (model.EvaluationDetail, error) {

	if !c.Initialized() {
		if c.store.Initialized() {
			c.logger.Warn("evaluation before client initialization; using last known flag data",
				"key", key)
		} else {
			c.logger.Warn("evaluation before client initialization; no flag data, returning default",
				"key", key)
			detail := model.NewEvaluationError(model.EvalErrorClientNotReady)
			detail.Value = defaultVal
			c.diag.RecordEvaluation(string(model.EvalReasonError))
			c.eventSink.SendEvent(factory.NewUnknownFlagRequest(key, user, defaultVal, detail.Reason))
			return detail, ErrClientNotReady
		}
	}

	item, err := c.store.Get(model.Features, key)
	if err != nil {
		c.logger.Error("data store error during evaluation", "key", key, "error", err)
		detail := model.NewEvaluationError(model.EvalErrorException)
		detail.Value = defaultVal
		c.diag.RecordEvaluation(string(model.EvalReasonError))
		return detail, err
	}
	flag, ok := item.(*model.FeatureFlag)
	if item == nil || !ok {
		detail := model.NewEvaluationError(model.EvalErrorFlagNotFound)
		detail.Value = defaultVal
		c.diag.RecordEvaluation(string(model.EvalReasonError))
		c.eventSink.SendEvent(factory.NewUnknownFlagRequest(key, user, defaultVal, detail.Reason))
		return detail, fmt.Errorf("unknown feature flag %q", key)
	}

	result := ev.Evaluate(flag, user)
	detail := result.Detail
	if detail.Value == nil {
		detail.Value = defaultVal
	}
	c.diag.RecordEvaluation(string(detail.Reason.Kind))
	for _, prereqEvent := range result.Events {
		c.eventSink.SendEvent(prereqEvent)
	}
	c.eventSink.SendEvent(factory.NewFeatureRequest(flag, user, detail, defaultVal, ""))
	return detail, result.Err
}

// storeProvider adapts the data store to the evaluator's read interface.
type storeProvider struct {
	store  store.DataStore
	logger *slog.Logger
}

func (p *storeProvider) GetFeatureFlag(key string) *model.FeatureFlag {
	item, err := p.store.Get(model.Features, key)
	if err != nil {
		p.logger.Error("data store error while fetching flag", "key", key, "error", err)
		return nil
	}
	flag, _ := item.(*model.FeatureFlag)
	return flag
}

func (p *storeProvider) GetSegment(key string) *model.Segment {
	item, err := p.store.Get(model.Segments, key)
	if err != nil {
		p.logger.Error("data store error while fetching segment", "key", key, "error", err)
		return nil
	}
	segment, _ := item.(*model.Segment)
	return segment
}
