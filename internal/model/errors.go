package model

import "errors"

// Error taxonomy. InsufficientHistory is deliberately absent: too little
// data is a normal empty result, not an error.
var (
	// ErrInvalidBar rejects a bar violating the OHLC invariant or the
	// timeframe's timestamp grid. The bar is discarded; nothing is written.
	ErrInvalidBar = errors.New("invalid bar")

	// ErrStorageUnavailable wraps failures from the external bar store.
	// The core performs no retries; the transport layer re-delivers.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
