package chat

import "errors"

// Sentinel errors the API layer maps to stable response codes. Everything
// else bubbling out of a turn is a store failure and stays generic.
var (
	// ErrNotFound covers a missing conversation as well as a conversation
	// owned by a different user; the two are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is an identity mismatch, rejected before any store access.
	ErrForbidden = errors.New("forbidden")
)
