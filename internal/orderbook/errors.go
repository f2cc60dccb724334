package orderbook

import "errors"

var (
	// ErrTransport marks a snapshot fetch or stream connect/read failure. It is
	// always retryable.
	ErrTransport = errors.New("transport error")
	// ErrMalformedMessage marks a payload that failed to decode or validate. The
	// offending message is dropped.
	ErrMalformedMessage = errors.New("malformed message")
)
