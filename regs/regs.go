// Package regs describes the MCP2517FD register file: addresses, bitfields
// and the packed encodings the protocol engine writes. Everything here is a
// direct transcription of the controller's register map; the accessors exist
// so shift and width mistakes show up in tests instead of on the bus.
package regs

// Field is one sub-field of a 32 bit register.
type Field struct {
	Shift uint32
	Width uint32
}

func (f Field) Mask() uint32 {
	return ((1 << f.Width) - 1) << f.Shift
}

// Get extracts the field from a full register value.
func (f Field) Get(reg uint32) uint32 {
	return (reg >> f.Shift) & ((1 << f.Width) - 1)
}

// Put positions v within the register, truncated to the field width.
func (f Field) Put(v uint32) uint32 {
	return (v & ((1 << f.Width) - 1)) << f.Shift
}

// CAN controller special function registers.
const (
	Con    uint16 = 0x000
	NbtCfg uint16 = 0x004
	DbtCfg uint16 = 0x008
	Tdc    uint16 = 0x00C
	Tbc    uint16 = 0x010
	TsCon  uint16 = 0x014
	Vec    uint16 = 0x018
	Int    uint16 = 0x01C
	RxIf   uint16 = 0x020
	TxIf   uint16 = 0x024
	RxOvIf uint16 = 0x028
	TxAtIf uint16 = 0x02C
	TxReq  uint16 = 0x030
	Trec   uint16 = 0x034
	Bdiag0 uint16 = 0x038
	Bdiag1 uint16 = 0x040
	TefCon uint16 = 0x044
	TefSta uint16 = 0x048
	TefUA  uint16 = 0x04C
	TxqCon uint16 = 0x054
	TxqUA  uint16 = 0x058
)

// Per-FIFO control, status and user-address registers. FIFO numbering starts
// at 1; FIFO 0 is the transmit queue with its own registers above.
func FifoCon(n int) uint16 { return 0x05C + 12*uint16(n-1) }
func FifoSta(n int) uint16 { return 0x060 + 12*uint16(n-1) }
func FifoUA(n int) uint16  { return 0x064 + 12*uint16(n-1) }

// Filter control is byte granular: four filters per 32 bit word starting at
// 0x1D0. FltConWord returns the word address and the byte lane for filter n.
func FltConWord(n int) (addr uint16, lane uint32) {
	return 0x1D0 + uint16(n&^3), uint32(n & 3)
}

func FltObj(n int) uint16  { return 0x1F0 + 8*uint16(n) }
func FltMask(n int) uint16 { return 0x1F4 + 8*uint16(n) }

const NumFilters = 32

// Message RAM window.
const (
	RamBase uint16 = 0x400
	RamSize        = 0x800
)

// Oscillator and bus interface registers.
const (
	Osc     uint16 = 0xE00
	IoCon   uint16 = 0xE04
	Crc     uint16 = 0xE08
	EccCon  uint16 = 0xE0C
	EccStat uint16 = 0xE10
)

// CON register.
const (
	ConIsoCrcEn = 1 << 5
	ConPxeDis   = 1 << 6
	ConWakFil   = 1 << 8
	ConBusy     = 1 << 11
	ConBrsDis   = 1 << 12
	ConRtxAt    = 1 << 16
	ConEsiGm    = 1 << 17
	ConSerr2Lom = 1 << 18
	ConStoreTef = 1 << 19
	ConTxqEn    = 1 << 20
	ConAbat     = 1 << 27
)

var (
	ConDnCnt = Field{0, 5}
	ConWft   = Field{9, 2}
	ConOpMod = Field{21, 3}
	ConReqOp = Field{24, 3}
	ConTxBws = Field{28, 3}
)

// Operating modes, as encoded in CON.REQOP/OPMOD.
const (
	ModeMixed            = 0
	ModeSleep            = 1
	ModeInternalLoopback = 2
	ModeListenOnly       = 3
	ModeConfig           = 4
	ModeExternalLoopback = 5
	ModeClassic          = 6
	ModeRestricted       = 7
)

// ConDefault is the CON value after a reset, ConDefaultMask the bits that
// participate in the post-reset identity check. A masked readback that does
// not match ConDefault means the device is absent or miswired.
const (
	ConDefault = ConIsoCrcEn | ConPxeDis | ConWakFil | (3 << 9) |
		ConStoreTef | ConTxqEn | (ModeConfig << 21) | (ModeConfig << 24)
	ConDefaultMask = 0x1F | ConIsoCrcEn | ConPxeDis | ConWakFil | (3 << 9) |
		ConBrsDis | ConRtxAt | ConEsiGm | ConSerr2Lom | ConStoreTef |
		ConTxqEn | (7 << 21) | (7 << 24) | ConAbat | (7 << 28)
)

// INT register: interrupt flags in the low half, matching enables 16 bits up.
const (
	IntTxIF     = 1 << 0
	IntRxIF     = 1 << 1
	IntTbcIF    = 1 << 2
	IntModIF    = 1 << 3
	IntTefIF    = 1 << 4
	IntEccIF    = 1 << 8
	IntSpiCrcIF = 1 << 9
	IntTxAtIF   = 1 << 10
	IntRxOvIF   = 1 << 11
	IntSErrIF   = 1 << 12
	IntCErrIF   = 1 << 13
	IntWakIF    = 1 << 14
	IntIvmIF    = 1 << 15

	IntFlagMask = 0xFFFF

	IntTxIE   = IntTxIF << 16
	IntRxIE   = IntRxIF << 16
	IntTefIE  = IntTefIF << 16
	IntModIE  = IntModIF << 16
	IntRxOvIE = IntRxOvIF << 16
	IntSErrIE = IntSErrIF << 16
	IntCErrIE = IntCErrIF << 16
	IntIvmIE  = IntIvmIF << 16
)

// FIFOCON register.
const (
	FifoConNotEmptyIE = 1 << 0
	FifoConHalfIE     = 1 << 1
	FifoConFullIE     = 1 << 2
	FifoConRxOvIE     = 1 << 3
	FifoConTxAtIE     = 1 << 4
	FifoConRxTsEn     = 1 << 5
	FifoConRtrEn      = 1 << 6
	FifoConTxEn       = 1 << 7
	FifoConUInc       = 1 << 8
	FifoConTxReq      = 1 << 9
	FifoConFReset     = 1 << 10
)

var (
	FifoConPri    = Field{16, 5}
	FifoConTxAt   = Field{21, 2}
	FifoConSize   = Field{24, 5} // depth minus one
	FifoConPlSize = Field{29, 3}
)

// FIFOSTA register.
const (
	FifoStaNotEmptyIF = 1 << 0
	FifoStaHalfIF     = 1 << 1
	FifoStaFullIF     = 1 << 2
	FifoStaRxOvIF     = 1 << 3
)

var FifoStaIndex = Field{8, 5}

// TEFCON register.
const (
	TefConNotEmptyIE = 1 << 0
	TefConHalfIE     = 1 << 1
	TefConFullIE     = 1 << 2
	TefConOvIE       = 1 << 3
	TefConTsEn       = 1 << 5
	TefConUInc       = 1 << 8
	TefConFReset     = 1 << 10
)

var TefConSize = Field{24, 5} // depth minus one

// TEFSTA register.
const (
	TefStaNotEmptyIF = 1 << 0
	TefStaOvIF       = 1 << 3
)

// Filter control byte, replicated once per lane in a FLTCON word.
const (
	FltConEnable = 1 << 7
)

var FltConFifo = Field{0, 5}

// OSC register.
const (
	OscPllEn   = 1 << 0
	OscDis     = 1 << 2
	OscSclkDiv = 1 << 4
	OscPllRdy  = 1 << 8
	OscRdy     = 1 << 10
	OscSclkRdy = 1 << 12
)

var OscClkODiv = Field{5, 2}

// CRC register interrupt enables.
const (
	CrcErrIE  = 1 << 16
	CrcFErrIE = 1 << 17
)

// ECCCON register.
const EccConEn = 1 << 0

// TSCON register.
const TsConTbcEn = 1 << 24

var TsConPre = Field{0, 10}

// TDC register.
var (
	TdcOffset = Field{8, 5}
	TdcMode   = Field{16, 2}
)

const TdcModeAuto = 2

// TREC register.
var (
	TrecRec = Field{0, 8}
	TrecTec = Field{8, 8}
)

const (
	TrecEWarn  = 1 << 16
	TrecRxWarn = 1 << 17
	TrecTxWarn = 1 << 18
	TrecRxBP   = 1 << 19
	TrecTxBP   = 1 << 20
	TrecTxBO   = 1 << 21
)

// Payload size class, as written to FIFOCON.PLSIZE and TXQCON.PLSIZE.
const (
	PlSize8  = 0
	PlSize12 = 1
	PlSize16 = 2
	PlSize20 = 3
	PlSize24 = 4
	PlSize32 = 5
	PlSize48 = 6
	PlSize64 = 7
)

// PayloadBytes maps a payload size class back to its byte count.
func PayloadBytes(class uint32) int {
	table := [8]int{8, 12, 16, 20, 24, 32, 48, 64}
	return table[class&7]
}
