package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// placeholderPrefix marks job handles that exist only locally while the
// remote submit for a task is still in flight.
const placeholderPrefix = "local-"

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewPlaceholderHandle returns a local job handle for a task that has not
// been accepted by the remote dispatcher yet.
func NewPlaceholderHandle() string {
	return placeholderPrefix + ulid.Make().String()
}

// IsPlaceholderHandle reports whether h is a local placeholder handle.
// The empty handle is treated as a placeholder.
func IsPlaceholderHandle(h string) bool {
	return h == "" || strings.HasPrefix(h, placeholderPrefix)
}
