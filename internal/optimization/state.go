package optimization

import (
	"sort"
	"strconv"
	"strings"
)

// State maps a parameter name to a level index. The key set is fixed by the
// problem and never changes during a run. Go maps have no order, so every
// place that prints or hashes a state goes through Keys.
type State map[string]int

// Keys returns the parameter names in ascending order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SameKeys reports whether s and other have exactly the same key set.
func (s State) SameKeys(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Equal reports whether s and other hold the same levels.
func (s State) Equal(other State) bool {
	if !s.SameKeys(other) {
		return false
	}
	for k, v := range s {
		if other[k] != v {
			return false
		}
	}
	return true
}

// String renders the state as name=level pairs in key order. The output is
// stable and doubles as a cache key.
func (s State) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range s.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(s[k]))
	}
	b.WriteByte('}')
	return b.String()
}
