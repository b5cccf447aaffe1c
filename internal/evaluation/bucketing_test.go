package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matt-riley/lightswitch/model"
)

// These expected values pin the hash formula to the cross-SDK contract; they
// must never change.
func TestBucketGoldenValues(t *testing.T) {
	tests := []struct {
		key  string
		want float64
	}{
		{"userKeyA", 0.42157587},
		{"userKeyB", 0.67084850},
		{"userKeyC", 0.10343106},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := Bucket(model.NewUser(tt.key), "hashKey", "key", "saltyA")
			assert.InDelta(t, tt.want, got, 1e-7)
		})
	}
}

func TestBucketSecondaryChangesResult(t *testing.T) {
	base := Bucket(model.NewUser("userKeyA"), "hashKey", "key", "saltyA")

	withSecondary := model.User{Key: "userKeyA", Secondary: "999"}
	got := Bucket(withSecondary, "hashKey", "key", "saltyA")

	assert.NotEqual(t, base, got)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.Less(t, got, 1.0)
}

func TestBucketIntAttributeMatchesString(t *testing.T) {
	asString := model.User{Key: "userKeyA", Custom: map[string]any{"intAttr": "33333"}}
	asInt := model.User{Key: "userKeyA", Custom: map[string]any{"intAttr": 33333}}

	want := Bucket(asString, "hashKey", "intAttr", "saltyA")
	got := Bucket(asInt, "hashKey", "intAttr", "saltyA")
	assert.Equal(t, want, got)
	assert.NotZero(t, got)
}

func TestBucketUnbucketableValues(t *testing.T) {
	tests := []struct {
		name string
		user model.User
		attr string
	}{
		{
			name: "float attribute",
			user: model.User{Key: "userKeyA", Custom: map[string]any{"floatAttr": 999.999}},
			attr: "floatAttr",
		},
		{
			name: "bool attribute",
			user: model.User{Key: "userKeyA", Custom: map[string]any{"boolAttr": true}},
			attr: "boolAttr",
		},
		{
			name: "missing attribute",
			user: model.NewUser("userKeyA"),
			attr: "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, Bucket(tt.user, "hashKey", tt.attr, "saltyA"))
		})
	}
}

func TestBucketRange(t *testing.T) {
	for _, key := range []string{"a", "b", "c", "d", "e", "f", "zebra", "0", ""} {
		got := Bucket(model.NewUser(key), "scope", "key", "salt")
		assert.GreaterOrEqual(t, got, 0.0, "key %q", key)
		assert.Less(t, got, 1.0, "key %q", key)
	}
}
