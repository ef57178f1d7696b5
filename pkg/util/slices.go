package util

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// SliceToMap turns key=value pairs into a map. Later pairs win.
func SliceToMap(slice []string) (map[string]string, error) {
	for _, s := range slice {
		if k, _, ok := strings.Cut(s, "="); !ok || strings.TrimSpace(k) == "" {
			return nil, errors.Errorf("expected key=value, got %q", s)
		}
	}
	return lo.SliceToMap(slice, func(s string) (string, string) {
		k, v, _ := strings.Cut(s, "=")
		return strings.TrimSpace(k), v
	}), nil
}

// ParseOptions reads key=value generation options, typing each value: integers, floats and
// booleans become numbers and bools, JSON arrays and objects are decoded, anything else stays a
// string. Empty input yields a nil map.
func ParseOptions(slice []string) (map[string]any, error) {
	if len(slice) == 0 {
		return nil, nil
	}
	pairs, err := SliceToMap(slice)
	if err != nil {
		return nil, err
	}
	return lo.MapValues(pairs, func(v string, _ string) any {
		return typed(v)
	}), nil
}

func typed(v string) any {
	s := strings.TrimSpace(v)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if (strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")) && gjson.Valid(s) {
		return gjson.Parse(s).Value()
	}
	return v
}
