package evaluation

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"

	"github.com/matt-riley/lightswitch/model"
)

// longScale is 15 hex F's: the maximum value of the leading 15 hex digits of
// a SHA-1 sum. The formula below is fixed by the wire protocol and must
// produce bit-identical buckets across SDK implementations.
const longScale = float64(0xFFFFFFFFFFFFFFF)

// Bucket maps (user, scopeKey, attr, salt) to a value in [0, 1). Users with
// no usable value for attr always land in bucket 0.
func Bucket(user model.User, scopeKey, attr, salt string) float64 {
	value, ok := user.GetAttribute(attr)
	if !ok {
		return 0
	}
	id, ok := bucketableStringValue(value)
	if !ok {
		return 0
	}
	if user.Secondary != "" {
		id += "." + user.Secondary
	}

	sum := sha1.Sum([]byte(scopeKey + "." + salt + "." + id))
	prefix := hex.EncodeToString(sum[:])[:15]
	n, err := strconv.ParseInt(prefix, 16, 64)
	if err != nil {
		return 0
	}
	return float64(n) / longScale
}

// bucketableStringValue stringifies a bucketing attribute: strings pass
// through, integers render in base 10, everything else (floats, bools,
// collections) has no bucketable value.
func bucketableStringValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	default:
		return "", false
	}
}
