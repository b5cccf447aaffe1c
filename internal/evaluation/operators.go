package evaluation

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/matt-riley/lightswitch/model"
)

// opFn matches one user attribute value against one clause literal. Every
// operator is strict about coercion: values of the wrong shape make the
// operator return false rather than error.
type opFn func(userValue, clauseValue any) bool

var operatorFns = map[model.Operator]opFn{
	model.OperatorIn:                 operatorInFn,
	model.OperatorEndsWith:           stringOp(strings.HasSuffix),
	model.OperatorStartsWith:         stringOp(strings.HasPrefix),
	model.OperatorContains:           stringOp(strings.Contains),
	model.OperatorMatches:            operatorMatchesFn,
	model.OperatorLessThan:           numericOp(func(a, b float64) bool { return a < b }),
	model.OperatorLessThanOrEqual:    numericOp(func(a, b float64) bool { return a <= b }),
	model.OperatorGreaterThan:        numericOp(func(a, b float64) bool { return a > b }),
	model.OperatorGreaterThanOrEqual: numericOp(func(a, b float64) bool { return a >= b }),
	model.OperatorBefore:             timeOp(time.Time.Before),
	model.OperatorAfter:              timeOp(time.Time.After),
	model.OperatorSemVerEqual:        semVerOp(func(a, b *semver.Version) bool { return a.Equal(b) }),
	model.OperatorSemVerLessThan:     semVerOp((*semver.Version).LessThan),
	model.OperatorSemVerGreaterThan:  semVerOp((*semver.Version).GreaterThan),
}

// operatorFn returns the match function for op. Unknown operators (including
// segmentMatch, which is dispatched by the engine, never through this table)
// match nothing.
func operatorFn(op model.Operator) opFn {
	if fn, ok := operatorFns[op]; ok {
		return fn
	}
	return func(any, any) bool { return false }
}

// operatorInFn is equality with numeric normalisation: numbers of any Go
// numeric type compare by value, everything else requires matching types.
func operatorInFn(userValue, clauseValue any) bool {
	if uNum, uOK := parseNumber(userValue); uOK {
		cNum, cOK := parseNumber(clauseValue)
		return cOK && uNum == cNum
	}
	if _, cOK := parseNumber(clauseValue); cOK {
		return false
	}
	return reflect.DeepEqual(userValue, clauseValue)
}

func operatorMatchesFn(userValue, clauseValue any) bool {
	uStr, uOK := userValue.(string)
	pattern, cOK := clauseValue.(string)
	if !uOK || !cOK {
		return false
	}
	matched, err := regexp.MatchString(pattern, uStr)
	return err == nil && matched
}

func stringOp(fn func(s, substr string) bool) opFn {
	return func(userValue, clauseValue any) bool {
		uStr, uOK := userValue.(string)
		cStr, cOK := clauseValue.(string)
		return uOK && cOK && fn(uStr, cStr)
	}
}

func numericOp(fn func(a, b float64) bool) opFn {
	return func(userValue, clauseValue any) bool {
		uNum, uOK := parseNumber(userValue)
		cNum, cOK := parseNumber(clauseValue)
		return uOK && cOK && fn(uNum, cNum)
	}
}

func timeOp(fn func(a, b time.Time) bool) opFn {
	return func(userValue, clauseValue any) bool {
		uTime, uOK := parseTime(userValue)
		cTime, cOK := parseTime(clauseValue)
		return uOK && cOK && fn(uTime, cTime)
	}
}

func semVerOp(fn func(a, b *semver.Version) bool) opFn {
	return func(userValue, clauseValue any) bool {
		uVer, uOK := parseSemVer(userValue)
		cVer, cOK := parseSemVer(clauseValue)
		return uOK && cOK && fn(uVer, cVer)
	}
}

func parseNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// parseTime accepts RFC-3339 strings and epoch-millisecond numbers.
func parseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		ms, ok := parseNumber(value)
		if !ok {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).UTC(), true
	}
}

// parseSemVer accepts full or shorthand versions ("2", "2.0", "2.0.0-rc1").
func parseSemVer(value any) (*semver.Version, bool) {
	s, ok := value.(string)
	if !ok {
		return nil, false
	}
	ver, err := semver.NewVersion(s)
	if err != nil {
		return nil, false
	}
	return ver, true
}
