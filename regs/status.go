package regs

import "encoding/binary"

// The status block is the contiguous register run from INT through BDIAG1,
// read in one bus transaction per drain pass. The word between BDIAG0 and
// BDIAG1 is reserved and skipped on decode.
const (
	StatusBase = Int
	StatusLen  = int(Bdiag1 + 4 - Int)
)

type Status struct {
	Int    uint32 // interrupt flags and enables
	RxIf   uint32 // per-FIFO receive not-empty
	TxIf   uint32 // per-FIFO transmit ready
	RxOvIf uint32 // per-FIFO receive overflow
	TxAtIf uint32 // per-FIFO transmit attempt exhausted
	TxReq  uint32 // per-FIFO send request outstanding
	Trec   uint32 // rx/tx error counters and bus state
	Bdiag0 uint32
	Bdiag1 uint32
}

// DecodeStatus parses a block read starting at StatusBase. buf must hold
// StatusLen bytes; field boundaries are identical to separate reads.
func DecodeStatus(buf []byte) Status {
	w := func(reg uint16) uint32 {
		off := int(reg - StatusBase)
		return binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return Status{
		Int:    w(Int),
		RxIf:   w(RxIf),
		TxIf:   w(TxIf),
		RxOvIf: w(RxOvIf),
		TxAtIf: w(TxAtIf),
		TxReq:  w(TxReq),
		Trec:   w(Trec),
		Bdiag0: w(Bdiag0),
		Bdiag1: w(Bdiag1),
	}
}

// Raised returns the interrupt flags that are both asserted and enabled.
func (s Status) Raised() uint32 {
	return s.Int & IntFlagMask & (s.Int >> 16)
}

func (s Status) RxErrorCount() uint32 { return TrecRec.Get(s.Trec) }
func (s Status) TxErrorCount() uint32 { return TrecTec.Get(s.Trec) }
func (s Status) BusOff() bool         { return s.Trec&TrecTxBO != 0 }
