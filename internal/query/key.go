package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a cache entry: an ordered tuple of primitives such as
// {"paginatedData", "character", "alice", 1, 20, ""}.
type Key []any

// part renders one element canonically so 1 and int64(1) compare equal.
func part(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// String returns the canonical form used as the map key.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = part(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// HasPrefix reports whether k starts with every element of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if part(k[i]) != part(prefix[i]) {
			return false
		}
	}
	return true
}

// Equal reports element-wise equality.
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}
