// Package events defines the analytics events produced during evaluation and
// the sink interface they are delivered to. Batching and delivery are owned
// by the sink implementation, not by this SDK.
package events

import (
	"sync"
	"time"

	"github.com/matt-riley/lightswitch/model"
)

// Event is any analytics event.
type Event interface {
	GetBase() Base
}

// Base carries the fields shared by every event.
type Base struct {
	Kind         string     `json:"kind"`
	CreationDate int64      `json:"creationDate"` // epoch milliseconds
	User         model.User `json:"user"`
}

// GetBase implements Event.
func (b Base) GetBase() Base { return b }

// FeatureRequest records one flag evaluation, including prerequisite
// evaluations performed on behalf of another flag (PrereqOf set).
type FeatureRequest struct {
	Base
	Key                  string                  `json:"key"`
	Version              *int                    `json:"version,omitempty"`
	Variation            *int                    `json:"variation,omitempty"`
	Value                any                     `json:"value"`
	Default              any                     `json:"default,omitempty"`
	PrereqOf             string                  `json:"prereqOf,omitempty"`
	Reason               *model.EvaluationReason `json:"reason,omitempty"`
	TrackEvents          bool                    `json:"-"`
	DebugEventsUntilDate *int64                  `json:"-"`
}

// Identify records that a user was seen.
type Identify struct {
	Base
	Key string `json:"key"`
}

// Custom records an application-defined event.
type Custom struct {
	Base
	Key  string `json:"key"`
	Data any    `json:"data,omitempty"`
}

// Sink receives events for delivery to the analytics pipeline.
type Sink interface {
	SendEvent(event Event)
	Flush()
	Close() error
}

// Factory builds events with consistent timestamps and reason inclusion.
type Factory struct {
	withReasons bool
	now         func() time.Time
}

// NewFactory returns a Factory. When withReasons is true, feature request
// events carry the evaluation reason.
func NewFactory(withReasons bool) Factory {
	return Factory{withReasons: withReasons, now: time.Now}
}

// NewFeatureRequest builds a feature event for an evaluation of flag. When
// prereqOf is non-empty the evaluation happened as a prerequisite check for
// that flag.
func (f Factory) NewFeatureRequest(flag *model.FeatureFlag, user model.User,
	detail model.EvaluationDetail, defaultVal any, prereqOf string) FeatureRequest {
	event := FeatureRequest{
		Base: Base{
			Kind:         "feature",
			CreationDate: f.now().UnixMilli(),
			User:         user,
		},
		Key:       flag.Key,
		Variation: detail.VariationIndex,
		Value:     detail.Value,
		Default:   defaultVal,
		PrereqOf:  prereqOf,
	}
	version := flag.Version
	event.Version = &version
	event.TrackEvents = flag.TrackEvents
	event.DebugEventsUntilDate = flag.DebugEventsUntilDate
	if f.withReasons {
		reason := detail.Reason
		event.Reason = &reason
	}
	return event
}

// NewUnknownFlagRequest builds a feature event for a flag that was not found.
func (f Factory) NewUnknownFlagRequest(key string, user model.User, defaultVal any,
	reason model.EvaluationReason) FeatureRequest {
	event := FeatureRequest{
		Base: Base{
			Kind:         "feature",
			CreationDate: f.now().UnixMilli(),
			User:         user,
		},
		Key:     key,
		Value:   defaultVal,
		Default: defaultVal,
	}
	if f.withReasons {
		event.Reason = &reason
	}
	return event
}

// NoopSink discards everything.
type NoopSink struct{}

func (NoopSink) SendEvent(Event) {}
func (NoopSink) Flush()          {}
func (NoopSink) Close() error    { return nil }

// CaptureSink records events in memory. It exists for tests and local
// debugging.
type CaptureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *CaptureSink) SendEvent(event Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *CaptureSink) Flush() {}

func (c *CaptureSink) Close() error { return nil }

// Events returns a copy of everything sent so far.
func (c *CaptureSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}
