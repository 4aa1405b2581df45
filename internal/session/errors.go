package session

import "errors"

var (
	// ErrMalformedCache indicates a persisted value could not be decoded. It is
	// recovered internally by discarding the value and is never shown to users.
	ErrMalformedCache = errors.New("session.malformed_cache")
	// ErrPartialTokenPair indicates an update would leave one token without the other.
	ErrPartialTokenPair = errors.New("session.partial_token_pair")
	// ErrUnsupportedStorage indicates no storage backend matches the configured URL.
	ErrUnsupportedStorage = errors.New("session.storage.unsupported")
)
