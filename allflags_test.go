package lightswitch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-riley/lightswitch/internal/logging"
	"github.com/matt-riley/lightswitch/model"
)

func TestAllFlagsStateValues(t *testing.T) {
	flagA := &model.FeatureFlag{Key: "a", Version: 1, On: true,
		Variations: []any{"apple", "apricot"}, Fallthrough: fallthroughVariation(1), Salt: "s"}
	flagB := &model.FeatureFlag{Key: "b", Version: 4, On: false,
		Variations: []any{true, false}, OffVariation: intPtr(1), Salt: "s"}

	client := daemonClient(t, nil, flagA, flagB)
	state := client.AllFlagsState(model.User{Key: "u"})

	assert.True(t, state.Valid())
	assert.Equal(t, "apricot", state.GetFlagValue("a"))
	assert.Equal(t, false, state.GetFlagValue("b"))
	assert.Nil(t, state.GetFlagValue("missing"))
	assert.Equal(t, map[string]any{"a": "apricot", "b": false}, state.ToValuesMap())
}

func TestAllFlagsStateClientSideOnly(t *testing.T) {
	serverFlag := &model.FeatureFlag{Key: "server", Version: 1, On: true,
		Variations: []any{"x"}, Fallthrough: fallthroughVariation(0), Salt: "s"}
	clientFlag := &model.FeatureFlag{Key: "client", Version: 1, On: true, ClientSide: true,
		Variations: []any{"y"}, Fallthrough: fallthroughVariation(0), Salt: "s"}

	client := daemonClient(t, nil, serverFlag, clientFlag)
	state := client.AllFlagsState(model.User{Key: "u"}, WithClientSideOnly())

	assert.Equal(t, map[string]any{"client": "y"}, state.ToValuesMap())
}

func TestAllFlagsStateReasons(t *testing.T) {
	flag := &model.FeatureFlag{Key: "a", Version: 1, On: false,
		Variations: []any{"x"}, OffVariation: intPtr(0), Salt: "s"}

	client := daemonClient(t, nil, flag)

	plain := client.AllFlagsState(model.User{Key: "u"})
	assert.Equal(t, model.EvaluationReason{}, plain.GetFlagReason("a"))

	withReasons := client.AllFlagsState(model.User{Key: "u"}, WithReasons())
	assert.Equal(t, model.EvalReasonOff, withReasons.GetFlagReason("a").Kind)
}

func TestAllFlagsStateDetailsOnlyForTrackedFlags(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	past := time.Now().Add(-time.Hour).UnixMilli()

	untracked := &model.FeatureFlag{Key: "untracked", Version: 1, On: true,
		Variations: []any{"x"}, Fallthrough: fallthroughVariation(0), Salt: "s"}
	tracked := &model.FeatureFlag{Key: "tracked", Version: 1, On: true, TrackEvents: true,
		Variations: []any{"x"}, Fallthrough: fallthroughVariation(0), Salt: "s"}
	debugging := &model.FeatureFlag{Key: "debugging", Version: 1, On: true,
		DebugEventsUntilDate: &future,
		Variations:           []any{"x"}, Fallthrough: fallthroughVariation(0), Salt: "s"}
	debugExpired := &model.FeatureFlag{Key: "debug-expired", Version: 1, On: true,
		DebugEventsUntilDate: &past,
		Variations:           []any{"x"}, Fallthrough: fallthroughVariation(0), Salt: "s"}

	client := daemonClient(t, nil, untracked, tracked, debugging, debugExpired)
	state := client.AllFlagsState(model.User{Key: "u"},
		WithReasons(), WithDetailsOnlyForTrackedFlags())

	assert.Equal(t, model.EvaluationReason{}, state.GetFlagReason("untracked"))
	assert.Equal(t, model.EvalReasonFallthrough, state.GetFlagReason("tracked").Kind)
	assert.Equal(t, model.EvalReasonFallthrough, state.GetFlagReason("debugging").Kind)
	assert.Equal(t, model.EvaluationReason{}, state.GetFlagReason("debug-expired"))
}

func TestAllFlagsStateJSON(t *testing.T) {
	flag := &model.FeatureFlag{Key: "a", Version: 2, On: false,
		Variations: []any{"x", "y"}, OffVariation: intPtr(0), Salt: "s"}

	client := daemonClient(t, nil, flag)
	state := client.AllFlagsState(model.User{Key: "u"})

	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"a": "x",
		"$flagsState": {"a": {"variation": 0, "version": 2}},
		"$valid": true
	}`, string(data))
}

func TestAllFlagsStateJSONRoundTrip(t *testing.T) {
	flag := &model.FeatureFlag{Key: "a", Version: 2, On: true, TrackEvents: true,
		Variations: []any{"x", "y"}, Fallthrough: fallthroughVariation(1), Salt: "s"}

	client := daemonClient(t, nil, flag)
	state := client.AllFlagsState(model.User{Key: "u"}, WithReasons())

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded FeatureFlagsState
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, decoded.Valid())
	assert.Equal(t, "y", decoded.GetFlagValue("a"))
	assert.Equal(t, model.EvalReasonFallthrough, decoded.GetFlagReason("a").Kind)
}

func TestAllFlagsStateBeforeInitialization(t *testing.T) {
	// The stream connects but never delivers data.
	server := httptest.NewServer(http.HandlerFunc(sseHandler(nil)))
	defer server.Close()

	cfg := DefaultConfig
	cfg.Logger = logging.Discard()
	client := streamingClient(t, server.URL, cfg)

	state := client.AllFlagsState(model.User{Key: "u"})
	assert.False(t, state.Valid())
	assert.Empty(t, state.ToValuesMap())

	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"$flagsState": {}, "$valid": false}`, string(data))
}
