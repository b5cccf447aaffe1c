package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// User is the subject of a flag evaluation. Key is required; all other
// attributes are optional. Arbitrary attributes live in Custom.
type User struct {
	Key       string         `json:"key"`
	Secondary string         `json:"secondary,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Country   string         `json:"country,omitempty"`
	Email     string         `json:"email,omitempty"`
	FirstName string         `json:"firstName,omitempty"`
	LastName  string         `json:"lastName,omitempty"`
	Avatar    string         `json:"avatar,omitempty"`
	Name      string         `json:"name,omitempty"`
	Anonymous *bool          `json:"anonymous,omitempty"`
	Custom    map[string]any `json:"custom,omitempty"`
}

// NewUser returns a User with only the key set.
func NewUser(key string) User {
	return User{Key: key}
}

// GetAttribute resolves an attribute by name. Built-in names resolve from the
// top-level record only; any other name resolves from Custom. The boolean is
// false when the attribute is absent or empty.
func (u User) GetAttribute(attr string) (any, bool) {
	switch attr {
	case "key":
		return stringAttr(u.Key)
	case "secondary":
		return stringAttr(u.Secondary)
	case "ip":
		return stringAttr(u.IP)
	case "country":
		return stringAttr(u.Country)
	case "email":
		return stringAttr(u.Email)
	case "firstName":
		return stringAttr(u.FirstName)
	case "lastName":
		return stringAttr(u.LastName)
	case "avatar":
		return stringAttr(u.Avatar)
	case "name":
		return stringAttr(u.Name)
	case "anonymous":
		if u.Anonymous == nil {
			return nil, false
		}
		return *u.Anonymous, true
	default:
		value, ok := u.Custom[attr]
		if !ok || value == nil {
			return nil, false
		}
		return value, true
	}
}

func stringAttr(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

// UnmarshalJSON decodes a user record, coercing numeric or boolean key and
// secondary values to their string forms so evaluation sees strings only.
func (u *User) UnmarshalJSON(data []byte) error {
	type userFields User
	aux := struct {
		Key       json.RawMessage `json:"key"`
		Secondary json.RawMessage `json:"secondary"`
		*userFields
	}{userFields: (*userFields)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	key, err := coerceToString(aux.Key)
	if err != nil {
		return fmt.Errorf("decode user key: %w", err)
	}
	secondary, err := coerceToString(aux.Secondary)
	if err != nil {
		return fmt.Errorf("decode user secondary: %w", err)
	}
	u.Key = key
	u.Secondary = secondary
	return nil
}

// coerceToString renders a JSON scalar as a string: strings pass through,
// numbers render in base 10 (whole values without a decimal point), booleans
// render as "true"/"false". Null and absent values yield "".
func coerceToString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		if math.Trunc(v) == v && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("unsupported type %T", value)
	}
}
