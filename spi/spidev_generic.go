//go:build !linux

package spi

import "fmt"

// DevConn is only available on Linux, where spidev exposes the bus.
type DevConn struct{}

func Open(path string, speedHz uint32) (*DevConn, error) {
	return nil, fmt.Errorf("spi: spidev is not supported on this platform")
}

func (c *DevConn) Exchange(tx, rx []byte) error { return ErrClosed }
func (c *DevConn) Close() error                 { return nil }
