package inmemory

import "errors"

// ErrNilTrade is returned when an update function returns no trade.
var ErrNilTrade = errors.New("update function returned a nil trade")
