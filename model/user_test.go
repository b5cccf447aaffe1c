package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserUnmarshalCoercesKeyAndSecondary(t *testing.T) {
	tests := []struct {
		name          string
		payload       string
		wantKey       string
		wantSecondary string
	}{
		{
			name:    "string key passes through",
			payload: `{"key":"user-1"}`,
			wantKey: "user-1",
		},
		{
			name:    "integer key renders base 10",
			payload: `{"key":33333}`,
			wantKey: "33333",
		},
		{
			name:    "boolean key renders as text",
			payload: `{"key":true}`,
			wantKey: "true",
		},
		{
			name:          "numeric secondary is coerced",
			payload:       `{"key":"u","secondary":999}`,
			wantKey:       "u",
			wantSecondary: "999",
		},
		{
			name:    "null key yields empty",
			payload: `{"key":null}`,
			wantKey: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u User
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &u))
			assert.Equal(t, tt.wantKey, u.Key)
			assert.Equal(t, tt.wantSecondary, u.Secondary)
		})
	}
}

func TestUserUnmarshalKeepsOtherBuiltins(t *testing.T) {
	payload := `{"key":"u","email":"u@example.com","country":"NZ","anonymous":true,"custom":{"group":"beta"}}`
	var u User
	require.NoError(t, json.Unmarshal([]byte(payload), &u))
	assert.Equal(t, "u@example.com", u.Email)
	assert.Equal(t, "NZ", u.Country)
	require.NotNil(t, u.Anonymous)
	assert.True(t, *u.Anonymous)
	assert.Equal(t, "beta", u.Custom["group"])
}

func TestUserGetAttribute(t *testing.T) {
	anon := true
	u := User{
		Key:       "k",
		Email:     "e@example.com",
		Anonymous: &anon,
		Custom:    map[string]any{"plan": "pro", "empty": nil},
	}

	tests := []struct {
		attr   string
		want   any
		wantOK bool
	}{
		{"key", "k", true},
		{"email", "e@example.com", true},
		{"anonymous", true, true},
		{"plan", "pro", true},
		{"empty", nil, false},
		{"firstName", nil, false},
		{"missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.attr, func(t *testing.T) {
			got, ok := u.GetAttribute(tt.attr)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuiltinsDoNotFallBackToCustom(t *testing.T) {
	u := User{Key: "k", Custom: map[string]any{"email": "shadow@example.com"}}
	_, ok := u.GetAttribute("email")
	assert.False(t, ok, "built-in names must resolve from the top-level record only")
}
