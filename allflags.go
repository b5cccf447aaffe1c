package lightswitch

import (
	"encoding/json"
	"time"

	"github.com/matt-riley/lightswitch/model"
)

type flagsStateOptions struct {
	clientSideOnly        bool
	withReasons           bool
	detailsOnlyForTracked bool
}

// FlagsStateOption modifies the behavior of AllFlagsState.
type FlagsStateOption func(*flagsStateOptions)

// WithClientSideOnly limits the state to flags marked for client-side use.
func WithClientSideOnly() FlagsStateOption {
	return func(o *flagsStateOptions) { o.clientSideOnly = true }
}

// WithReasons includes evaluation reasons in the state.
func WithReasons() FlagsStateOption {
	return func(o *flagsStateOptions) { o.withReasons = true }
}

// WithDetailsOnlyForTrackedFlags omits reasons for flags that neither track
// events nor have an active debug window, shrinking the payload.
func WithDetailsOnlyForTrackedFlags() FlagsStateOption {
	return func(o *flagsStateOptions) { o.detailsOnlyForTracked = true }
}

type flagState struct {
	Variation            *int                    `json:"variation,omitempty"`
	Version              int                     `json:"version"`
	Reason               *model.EvaluationReason `json:"reason,omitempty"`
	TrackEvents          bool                    `json:"trackEvents,omitempty"`
	DebugEventsUntilDate *int64                  `json:"debugEventsUntilDate,omitempty"`
}

// FeatureFlagsState captures the values of all flags for one user, in the
// JSON shape expected by client-side SDK bootstrapping: one top-level entry
// per flag plus "$flagsState" metadata and a "$valid" marker.
type FeatureFlagsState struct {
	flagValues map[string]any
	flagMeta   map[string]flagState
	valid      bool
}

// Valid reports whether the state was produced from usable flag data. An
// uninitialized client with an empty store yields an invalid state.
func (s FeatureFlagsState) Valid() bool { return s.valid }

// GetFlagValue returns the evaluated value for a flag key, or nil when the
// key is not in the state.
func (s FeatureFlagsState) GetFlagValue(key string) any { return s.flagValues[key] }

// GetFlagReason returns the evaluation reason for a flag key. It is the zero
// reason unless the state was built with WithReasons.
func (s FeatureFlagsState) GetFlagReason(key string) model.EvaluationReason {
	if meta, ok := s.flagMeta[key]; ok && meta.Reason != nil {
		return *meta.Reason
	}
	return model.EvaluationReason{}
}

// ToValuesMap returns a copy of the flag key to value mapping.
func (s FeatureFlagsState) ToValuesMap() map[string]any {
	out := make(map[string]any, len(s.flagValues))
	for key, value := range s.flagValues {
		out[key] = value
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (s FeatureFlagsState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.flagValues)+2)
	for key, value := range s.flagValues {
		out[key] = value
	}
	meta := s.flagMeta
	if meta == nil {
		meta = map[string]flagState{}
	}
	out["$flagsState"] = meta
	out["$valid"] = s.valid
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *FeatureFlagsState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.flagValues = make(map[string]any)
	s.flagMeta = make(map[string]flagState)
	s.valid = false
	for key, value := range raw {
		switch key {
		case "$valid":
			if err := json.Unmarshal(value, &s.valid); err != nil {
				return err
			}
		case "$flagsState":
			if err := json.Unmarshal(value, &s.flagMeta); err != nil {
				return err
			}
		default:
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			s.flagValues[key] = v
		}
	}
	return nil
}

// AllFlagsState evaluates every flag for the user and returns the combined
// state. No analytics events are produced.
func (c *Client) AllFlagsState(user model.User, options ...FlagsStateOption) FeatureFlagsState {
	var opts flagsStateOptions
	for _, o := range options {
		o(&opts)
	}

	if !c.Initialized() {
		if c.store.Initialized() {
			c.logger.Warn("AllFlagsState called before client initialization; using last known flag data")
		} else {
			c.logger.Warn("AllFlagsState called before client initialization; no flag data, returning invalid state")
			return FeatureFlagsState{}
		}
	}

	items, err := c.store.All(model.Features)
	if err != nil {
		c.logger.Error("data store error while building flags state", "error", err)
		return FeatureFlagsState{}
	}

	state := FeatureFlagsState{
		flagValues: make(map[string]any, len(items)),
		flagMeta:   make(map[string]flagState, len(items)),
		valid:      true,
	}
	now := time.Now().UnixMilli()
	for key, item := range items {
		flag, ok := item.(*model.FeatureFlag)
		if !ok {
			continue
		}
		if opts.clientSideOnly && !flag.ClientSide {
			continue
		}
		detail := c.evaluatorWithReasons.Evaluate(flag, user).Detail
		meta := flagState{
			Variation:            detail.VariationIndex,
			Version:              flag.Version,
			TrackEvents:          flag.TrackEvents,
			DebugEventsUntilDate: flag.DebugEventsUntilDate,
		}
		requireDetails := !opts.detailsOnlyForTracked || flag.TrackEvents ||
			(flag.DebugEventsUntilDate != nil && *flag.DebugEventsUntilDate > now)
		if opts.withReasons && requireDetails {
			reason := detail.Reason
			meta.Reason = &reason
		}
		state.flagValues[key] = detail.Value
		state.flagMeta[key] = meta
	}
	return state
}
