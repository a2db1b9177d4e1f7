package gguf

import (
	"fmt"
	"slices"
)

// KV is the parsed metadata table.
type KV map[string]Value

// Keys returns the metadata keys in lexical order.
func (kv KV) Keys() []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (kv KV) String(key string) (string, bool) {
	v, ok := kv[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value.(string)
	return s, ok
}

func (kv KV) Bool(key string) (bool, bool) {
	v, ok := kv[key]
	if !ok {
		return false, false
	}
	b, ok := v.Value.(bool)
	return b, ok
}

// Uint64 accepts any non-negative integer value.
func (kv KV) Uint64(key string) (uint64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	switch t := v.Value.(type) {
	case uint8:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint32:
		return uint64(t), true
	case uint64:
		return t, true
	case int8:
		return uint64(t), t >= 0
	case int16:
		return uint64(t), t >= 0
	case int32:
		return uint64(t), t >= 0
	case int64:
		return uint64(t), t >= 0
	default:
		return 0, false
	}
}

func (kv KV) Int64(key string) (int64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	switch t := v.Value.(type) {
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), t <= 1<<63-1
	default:
		return 0, false
	}
}

func (kv KV) Float64(key string) (float64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	switch t := v.Value.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// Architecture returns general.architecture, if present.
func (kv KV) Architecture() string {
	s, _ := kv.String("general.architecture")
	return s
}

// MustString is String with a descriptive error for missing keys.
func (kv KV) MustString(key string) (string, error) {
	if s, ok := kv.String(key); ok {
		return s, nil
	}
	return "", fmt.Errorf("gguf: missing or invalid %s", key)
}

// GetArray returns the array stored under key when every element has type T.
func GetArray[T any](kv KV, key string) ([]T, bool) {
	v, ok := kv[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.Value.(ArrayValue)
	if !ok {
		return nil, false
	}

	out := make([]T, 0, len(arr.Values))
	for _, item := range arr.Values {
		tItem, ok := item.(T)
		if !ok {
			return nil, false
		}
		out = append(out, tItem)
	}
	return out, true
}

// FormatValue renders a metadata value for display. Long arrays are
// summarised by element type and length.
func FormatValue(v Value) string {
	switch t := v.Value.(type) {
	case ArrayValue:
		if len(t.Values) > 8 {
			return fmt.Sprintf("[%s x %d]", t.ElemType, len(t.Values))
		}
		return fmt.Sprint(t.Values)
	case string:
		if len(t) > 64 {
			return fmt.Sprintf("%q...", t[:64])
		}
		return fmt.Sprintf("%q", t)
	default:
		return fmt.Sprint(t)
	}
}
