package normalizer

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// node is one object of the decoded payload tree.
type node map[string]any

func decode(raw []byte) (node, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	if root == nil {
		return nil, errNotObject
	}
	return root, nil
}

func (n node) obj(key string) (node, bool) {
	if n == nil {
		return nil, false
	}
	v, ok := n[key].(map[string]any)
	return v, ok
}

func (n node) has(key string) bool {
	if n == nil {
		return false
	}
	_, ok := n[key]
	return ok
}

// str returns the string at key, or "" when absent or not a string.
func (n node) str(key string) string {
	if n == nil {
		return ""
	}
	s, _ := n[key].(string)
	return s
}

func (n node) strPtr(key string) *string {
	s := n.str(key)
	if s == "" {
		return nil
	}
	return &s
}

func (n node) boolean(key string) bool {
	if n == nil {
		return false
	}
	b, _ := n[key].(bool)
	return b
}

// int64 accepts both numeric and numeric-string encodings.
func (n node) int64(key string) (int64, bool) {
	if n == nil {
		return 0, false
	}
	switch v := n[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i, true
		}
	case map[string]any:
		// protobuf Long as emitted by some provider builds: {"low":..,"high":..}
		lo, okLo := node(v).int64("low")
		hi, okHi := node(v).int64("high")
		if okLo && okHi {
			return hi<<32 | (lo & 0xffffffff), true
		}
	}
	return 0, false
}

func (n node) int64Ptr(key string) *int64 {
	if i, ok := n.int64(key); ok {
		return &i
	}
	return nil
}
