// Package frame holds the generic CAN/CAN-FD frame model and the codec that
// translates it to and from the controller's packed message objects.
package frame

import "errors"

// Frame represents one CAN or CAN-FD frame.
//
// Supported features:
//   - Standard (11-bit) and Extended (29-bit) identifiers
//   - Remote Transmission Request (classic frames only)
//   - FD format with bit rate switching and error state indication
//   - Payloads up to 64 bytes
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	FD       bool   // CAN-FD format
	BRS      bool   // bit rate switch to the data phase
	ESI      bool   // transmitter was error passive
	Len      uint8  // payload byte count, 0..8 classic, 0..64 FD
	Data     [64]byte
}

const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF

	// MaxClassicLen and MaxFDLen bound the payload per frame variant.
	MaxClassicLen = 8
	MaxFDLen      = 64
)

var (
	ErrInvalidID  = errors.New("frame: invalid identifier")
	ErrInvalidLen = errors.New("frame: invalid payload length")
	ErrShortBuf   = errors.New("frame: buffer too short for object")
)

// Validate returns an error if the frame is not representable on the wire.
func (f Frame) Validate() error {
	max := uint8(MaxClassicLen)
	if f.FD {
		max = MaxFDLen
	}
	if f.Len > max {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > maxExtID {
			return ErrInvalidID
		}
	} else if f.ID > maxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the live portion of the data array.
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len]
}
