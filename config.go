package lightswitch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/matt-riley/lightswitch/diagnostics"
	"github.com/matt-riley/lightswitch/events"
	"github.com/matt-riley/lightswitch/internal/datasource"
	"github.com/matt-riley/lightswitch/store"
)

const (
	// DefaultBaseURI is the polling service endpoint.
	DefaultBaseURI = "https://app.lightswitch.dev"
	// DefaultStreamURI is the streaming service endpoint.
	DefaultStreamURI = "https://stream.lightswitch.dev"
	// DefaultPollInterval is used when polling and no interval is configured.
	// It is also the floor: shorter configured intervals are raised to it.
	DefaultPollInterval = datasource.MinPollInterval
	// DefaultStreamInitialReconnectDelay is the first reconnect backoff delay.
	DefaultStreamInitialReconnectDelay = time.Second
	// DefaultTimeout bounds individual polling and snapshot requests. The
	// streaming connection itself is never subject to a timeout.
	DefaultTimeout = 5 * time.Second
)

// Config holds the client configuration. Start from DefaultConfig and
// override fields as needed; the zero Config is not usable because Stream
// and SendEvents default to true.
type Config struct {
	// BaseURI is the polling service base URI.
	BaseURI string
	// StreamURI is the streaming service base URI.
	StreamURI string

	// Stream selects streaming mode. When false the client polls instead.
	Stream bool
	// PollInterval is the interval between snapshot polls, floored at
	// DefaultPollInterval. Ignored when streaming.
	PollInterval time.Duration
	// StreamInitialReconnectDelay is the first delay of the reconnect
	// backoff. Values <= 0 use DefaultStreamInitialReconnectDelay.
	StreamInitialReconnectDelay time.Duration

	// Timeout bounds each polling request. Zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient, when set, is used for all outbound requests as-is and
	// Timeout, ProxyURL and EnableTracing are not applied. The streaming
	// connection uses a copy with no timeout.
	HTTPClient *http.Client
	// ProxyURL routes outbound requests through an HTTP proxy. Empty uses
	// the environment proxy settings.
	ProxyURL string
	// EnableTracing wraps the outbound transport with OpenTelemetry
	// instrumentation.
	EnableTracing bool

	// Offline disables all network activity. Evaluations see only whatever
	// the configured DataStore already holds.
	Offline bool
	// DaemonMode disables the client's own data source and trusts an
	// externally populated DataStore.
	DaemonMode bool

	// SendEvents controls whether evaluation events reach the EventSink.
	SendEvents bool
	// EventSink receives analytics events. Nil discards them.
	EventSink events.Sink

	// DiagnosticOptOut disables the built-in diagnostics sink.
	DiagnosticOptOut bool
	// Diagnostics overrides the built-in Prometheus diagnostics sink.
	Diagnostics diagnostics.Sink

	// WrapperName and WrapperVersion identify a wrapper library on outbound
	// requests via the X-Lightswitch-Wrapper header.
	WrapperName    string
	WrapperVersion string

	// Logger receives structured log output. Nil uses a JSON logger on
	// stderr at LogLevel.
	Logger *slog.Logger
	// LogLevel is the minimum level for the fallback logger: "debug",
	// "info", "warn" or "error". Ignored when Logger is set.
	LogLevel string

	// DataStore overrides the default in-memory store.
	DataStore store.DataStore
}

// DefaultConfig is the recommended starting configuration.
var DefaultConfig = Config{
	BaseURI:                     DefaultBaseURI,
	StreamURI:                   DefaultStreamURI,
	Stream:                      true,
	PollInterval:                DefaultPollInterval,
	StreamInitialReconnectDelay: DefaultStreamInitialReconnectDelay,
	Timeout:                     DefaultTimeout,
	SendEvents:                  true,
}

// Validate applies defaults and floors, normalises URIs and rejects values
// the client cannot work with. MakeClient calls it; calling it directly is
// only useful for surfacing configuration errors early.
func (c *Config) Validate() error {
	if c.BaseURI == "" {
		c.BaseURI = DefaultBaseURI
	}
	if c.StreamURI == "" {
		c.StreamURI = DefaultStreamURI
	}
	c.BaseURI = strings.TrimRight(c.BaseURI, "/")
	c.StreamURI = strings.TrimRight(c.StreamURI, "/")

	if err := validateURI("BaseURI", c.BaseURI); err != nil {
		return err
	}
	if err := validateURI("StreamURI", c.StreamURI); err != nil {
		return err
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return fmt.Errorf("parse ProxyURL: %w", err)
		}
	}

	if c.PollInterval < datasource.MinPollInterval {
		c.PollInterval = datasource.MinPollInterval
	}
	if c.StreamInitialReconnectDelay <= 0 {
		c.StreamInitialReconnectDelay = DefaultStreamInitialReconnectDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

func validateURI(name, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", name, value)
	}
	if u.Host == "" {
		return errors.New(name + " has no host")
	}
	return nil
}

// newHTTPClient builds the outbound HTTP client. A zero timeout is used for
// the streaming connection, which must stay open indefinitely.
func (c *Config) newHTTPClient(timeout time.Duration) *http.Client {
	if c.HTTPClient != nil {
		if timeout == 0 && c.HTTPClient.Timeout != 0 {
			streamClient := *c.HTTPClient
			streamClient.Timeout = 0
			return &streamClient
		}
		return c.HTTPClient
	}

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if c.ProxyURL != "" {
		// Validate already checked the URL parses.
		proxyURL, _ := url.Parse(c.ProxyURL)
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	var rt http.RoundTripper = transport
	if c.EnableTracing {
		rt = otelhttp.NewTransport(transport)
	}
	return &http.Client{Timeout: timeout, Transport: rt}
}
