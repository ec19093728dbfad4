//go:build linux

package spi

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// spidev ioctl numbers, from linux/spi/spidev.h.
const (
	spiIocWrMode        = 0x40016b01
	spiIocWrBitsPerWord = 0x40016b03
	spiIocWrMaxSpeedHz  = 0x40046b04
	spiIocMessage1      = 0x40206b00
)

type spiIocTransfer struct {
	txBuf          uint64
	rxBuf          uint64
	len            uint32
	speedHz        uint32
	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNbits        uint8
	rxNbits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

// DevConn drives a /dev/spidevB.C character device.
type DevConn struct {
	fd      int
	speedHz uint32
	closed  bool
}

// Open configures the device for SPI mode 0, 8 bits per word, at speedHz.
func Open(path string, speedHz uint32) (*DevConn, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spi: open %s: %w", path, err)
	}
	c := &DevConn{fd: fd, speedHz: speedHz}

	mode := uint8(0)
	bits := uint8(8)
	if err := c.ioctl(spiIocWrMode, unsafe.Pointer(&mode)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spi: set mode on %s: %w", path, err)
	}
	if err := c.ioctl(spiIocWrBitsPerWord, unsafe.Pointer(&bits)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spi: set word size on %s: %w", path, err)
	}
	if err := c.ioctl(spiIocWrMaxSpeedHz, unsafe.Pointer(&c.speedHz)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spi: set speed on %s: %w", path, err)
	}
	return c, nil
}

func (c *DevConn) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (c *DevConn) Exchange(tx, rx []byte) error {
	if c.closed {
		return ErrClosed
	}
	if len(tx) != len(rx) {
		return fmt.Errorf("spi: exchange length mismatch: %d != %d", len(tx), len(rx))
	}
	xfer := spiIocTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		len:         uint32(len(tx)),
		speedHz:     c.speedHz,
		bitsPerWord: 8,
	}
	if err := c.ioctl(spiIocMessage1, unsafe.Pointer(&xfer)); err != nil {
		return fmt.Errorf("spi: transfer of %d bytes: %w", len(tx), err)
	}
	return nil
}

func (c *DevConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}
