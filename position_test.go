package leapkit

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParsePosition(t *testing.T) {
	cases := []struct {
		input interface{}
		want  int
	}{
		{0, 0},
		{50, 50},
		{100, 100},
		{uint8(7), 7},
		{int64(99), 99},
		{float32(12.4), 12},
		{49.5, 50},
		{"42", 42},
		{" 42 ", 42},
		{"42.7", 43},
		{[]byte("8"), 8},
		{json.Number("61"), 61},
		{101, 100},
		{-1, 0},
		{math.Inf(1), 100},
		{"1e9", 100},
	}

	for _, tc := range cases {
		got, err := ParsePosition(tc.input)
		if err != nil {
			t.Errorf("ParsePosition(%v) returned error: %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePosition(%v) = %d want %d", tc.input, got, tc.want)
		}
	}
}

func TestParsePositionInvalid(t *testing.T) {
	for _, input := range []interface{}{"", "open", nil, true, math.NaN(), math.Inf(1), "Inf", "+Infinity", "-inf", json.Number("x"), struct{}{}} {
		_, err := ParsePosition(input)
		assertErrorIs(t, err, ErrInvalidPosition)
	}
}
