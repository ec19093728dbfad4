package frame

import "encoding/binary"

// Message object layout, shared by the transmit object, the receive object
// and the transmit event object.
//
// Identifier word: an 11 bit standard segment, an 18 bit extended segment
// and one spare high bit. An extended identifier carries its top 11 bits in
// the standard segment and its low 18 bits in the extended segment.
//
// Flags word: 4 bit length code, extended-id, remote-request, bit-rate
// switch, FD format and error-state bits, then a 7 bit sequence tag that the
// transmit event object echoes back.
const (
	sidShift = 0
	sidMask  = 0x7FF
	eidShift = 11
	eidMask  = 0x3FFFF

	flagDLCMask = 0xF
	flagIDE     = 1 << 4
	flagRTR     = 1 << 5
	flagBRS     = 1 << 6
	flagFDF     = 1 << 7
	flagESI     = 1 << 8
	seqShift    = 9
	seqMask     = 0x7F

	// TxHeaderLen and RxHeaderLen are the object sizes before payload; the
	// receive and event objects carry an extra timestamp word.
	TxHeaderLen = 8
	RxHeaderLen = 12
	TefLen      = 12
)

// PaddedLen rounds a payload length up to the 4 byte granularity the message
// RAM requires.
func PaddedLen(n int) int {
	return (n + 3) &^ 3
}

func encodeID(f *Frame) uint32 {
	if f.Extended {
		return (f.ID>>18&sidMask)<<sidShift | (f.ID&eidMask)<<eidShift
	}
	return (f.ID & sidMask) << sidShift
}

func decodeID(w uint32, extended bool) uint32 {
	if extended {
		return (w>>sidShift&sidMask)<<18 | (w >> eidShift & eidMask)
	}
	return w >> sidShift & sidMask
}

func encodeFlags(f *Frame, seq uint8) uint32 {
	v := uint32(LengthToCode(f.Len)) | uint32(seq&seqMask)<<seqShift
	if f.Extended {
		v |= flagIDE
	}
	if f.RTR {
		v |= flagRTR
	}
	if f.BRS {
		v |= flagBRS
	}
	if f.FD {
		v |= flagFDF
	}
	if f.ESI {
		v |= flagESI
	}
	return v
}

// EncodeTx writes the transmit object for f into buf and returns the number
// of bytes used: the header plus the payload rounded to a 4 byte multiple.
// The frame's length is corrected in place to the rounded wire length, with
// the padding bytes zeroed, so what the caller holds matches what was sent.
func EncodeTx(f *Frame, seq uint8, buf []byte) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	wire := RoundLength(f.Len)
	for i := f.Len; i < wire; i++ {
		f.Data[i] = 0
	}
	f.Len = wire

	n := TxHeaderLen + PaddedLen(int(wire))
	if len(buf) < n {
		return 0, ErrShortBuf
	}
	binary.LittleEndian.PutUint32(buf[0:4], encodeID(f))
	binary.LittleEndian.PutUint32(buf[4:8], encodeFlags(f, seq))
	copy(buf[TxHeaderLen:n], f.Data[:wire])
	for i := TxHeaderLen + int(wire); i < n; i++ {
		buf[i] = 0
	}
	return n, nil
}

// DecodeRx parses a receive object. The returned timestamp is the raw time
// base counter value captured by the controller at reception.
func DecodeRx(buf []byte) (Frame, uint32, error) {
	var f Frame
	if len(buf) < RxHeaderLen {
		return f, 0, ErrShortBuf
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	flags := binary.LittleEndian.Uint32(buf[4:8])
	ts := binary.LittleEndian.Uint32(buf[8:12])

	f.Extended = flags&flagIDE != 0
	f.RTR = flags&flagRTR != 0
	f.BRS = flags&flagBRS != 0
	f.FD = flags&flagFDF != 0
	f.ESI = flags&flagESI != 0
	f.ID = decodeID(id, f.Extended)
	f.Len = CodeToLength(uint8(flags & flagDLCMask))
	// A corrupted object can carry a length code bigger than the slot it
	// sits in. Clamp to the bytes actually captured instead of failing the
	// whole drain pass over one bad object.
	if n := len(buf) - RxHeaderLen; int(f.Len) > n {
		f.Len = uint8(n)
	}
	copy(f.Data[:f.Len], buf[RxHeaderLen:])
	return f, ts, nil
}

// TefEvent is one decoded transmit event object.
type TefEvent struct {
	ID        uint32
	Extended  bool
	Seq       uint8 // sequence tag of the ring that completed
	Timestamp uint32
}

// DecodeTef parses a transmit event object.
func DecodeTef(buf []byte) (TefEvent, error) {
	var e TefEvent
	if len(buf) < TefLen {
		return e, ErrShortBuf
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	flags := binary.LittleEndian.Uint32(buf[4:8])
	e.Extended = flags&flagIDE != 0
	e.ID = decodeID(id, e.Extended)
	e.Seq = uint8(flags >> seqShift & seqMask)
	e.Timestamp = binary.LittleEndian.Uint32(buf[8:12])
	return e, nil
}
