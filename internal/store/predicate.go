package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Match reports whether doc satisfies every predicate. A missing field
// never matches.
func Match(doc Document, preds []Predicate) bool {
	for _, p := range preds {
		v, ok := doc[p.Field]
		if !ok || v == nil {
			return false
		}
		if !evalPredicate(v, p.Op, p.Value) {
			return false
		}
	}
	return true
}

func evalPredicate(left interface{}, op Operator, right interface{}) bool {
	if op == OpEq {
		if c, ok := compareValues(left, right); ok {
			return c == 0
		}
		return fmt.Sprint(left) == fmt.Sprint(right)
	}
	c, ok := compareValues(left, right)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// compareValues orders two scalar values. Numbers compare numerically,
// times chronologically (RFC 3339 strings are accepted against times) and
// strings lexically, which keeps ISO dates in order.
func compareValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), true
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0, true
			case !ba:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// SortDocuments orders docs by field. Documents without the field sort last.
func SortDocuments(docs []Document, field string, descending bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		vi, iok := docs[i][field]
		vj, jok := docs[j][field]
		if !iok || vi == nil {
			return false
		}
		if !jok || vj == nil {
			return true
		}
		c, ok := compareValues(vi, vj)
		if !ok {
			c = strings.Compare(fmt.Sprint(vi), fmt.Sprint(vj))
		}
		if descending {
			return c > 0
		}
		return c < 0
	})
}
