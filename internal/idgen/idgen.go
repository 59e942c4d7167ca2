package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// TraceID returns a ULID suitable for correlating every event of one
// streaming request. ULIDs sort by creation time, which keeps trace
// journals readable.
func TraceID() string {
	return ulid.Make().String()
}
