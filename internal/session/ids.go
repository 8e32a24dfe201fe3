package session

import "github.com/oklog/ulid/v2"

// NewID returns a fresh message id. ULIDs sort by creation time.
func NewID() string {
	return ulid.Make().String()
}
