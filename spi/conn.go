package spi

import "errors"

// Conn is a single chip-select worth of SPI bus. Exchange clocks tx out and
// fills rx in one full-duplex transaction; both slices must be the same
// length. Implementations do not need to be safe for concurrent use, the
// Transport serializes access.
type Conn interface {
	Exchange(tx, rx []byte) error
	Close() error
}

var (
	// ErrInvalidMask is returned when a masked register access is attempted
	// with a zero mask. This is a programming error in the caller, not a bus
	// condition.
	ErrInvalidMask = errors.New("spi: zero mask for partial register access")

	ErrClosed = errors.New("spi: connection closed")
)
