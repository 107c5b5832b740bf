package leapkit

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	MinPosition = 0
	MaxPosition = 100
	// FlatPosition leaves the slats horizontal.
	FlatPosition = 50
)

// ParsePosition coerces a value coming from HomeKit, MQTT or HTTP into a
// position. Numbers are rounded and clamped to [0, 100], numeric strings are
// parsed first, anything else is ErrInvalidPosition.
func ParsePosition(value interface{}) (int, error) {
	var f float64

	switch v := value.(type) {
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, v.String())
		}
		f = parsed
	case []byte:
		return ParsePosition(string(v))
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, v)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidPosition, value)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPosition, f)
	}

	f = math.Max(MinPosition, math.Min(MaxPosition, f))
	return int(math.Round(f)), nil
}
