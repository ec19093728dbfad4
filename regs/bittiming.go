package regs

import "fmt"

// BitTiming holds one phase's timing parameters in human units, the way a
// datasheet or a bus calculator states them. Pack produces the register
// encoding, which stores every quantity minus one.
type BitTiming struct {
	Prescaler uint32 // time quantum = Prescaler / f_sysclk
	PropSeg   uint32 // time quanta
	PhaseSeg1 uint32
	PhaseSeg2 uint32
	SJW       uint32
}

// Register sub-fields, low to high: SJW, TSEG2, TSEG1, BRP. The nominal and
// data phase registers share this layout; only the field widths differ.
var (
	BtSJW   = Field{0, 7}
	BtTSeg2 = Field{8, 7}
	BtTSeg1 = Field{16, 8}
	BtBRP   = Field{24, 8}
)

// Pack encodes the timing for NBTCFG or DBTCFG. TSEG1 covers both the
// propagation and first phase segment.
func (bt BitTiming) Pack() uint32 {
	return BtSJW.Put(bt.SJW-1) |
		BtTSeg2.Put(bt.PhaseSeg2-1) |
		BtTSeg1.Put(bt.PropSeg+bt.PhaseSeg1-1) |
		BtBRP.Put(bt.Prescaler-1)
}

// Validate checks the parameters against the register field ranges. The data
// phase register has narrower fields than the nominal one.
func (bt BitTiming) Validate(dataPhase bool) error {
	sjwMax, tseg2Max, tseg1Max := uint32(128), uint32(128), uint32(256)
	if dataPhase {
		sjwMax, tseg2Max, tseg1Max = 16, 16, 32
	}
	tseg1 := bt.PropSeg + bt.PhaseSeg1
	switch {
	case bt.Prescaler < 1 || bt.Prescaler > 256:
		return fmt.Errorf("regs: prescaler %d out of range 1..256", bt.Prescaler)
	case bt.SJW < 1 || bt.SJW > sjwMax:
		return fmt.Errorf("regs: sync jump width %d out of range 1..%d", bt.SJW, sjwMax)
	case bt.PhaseSeg2 < 1 || bt.PhaseSeg2 > tseg2Max:
		return fmt.Errorf("regs: phase segment 2 %d out of range 1..%d", bt.PhaseSeg2, tseg2Max)
	case tseg1 < 1 || tseg1 > tseg1Max:
		return fmt.Errorf("regs: prop+phase segment 1 %d out of range 1..%d", tseg1, tseg1Max)
	case bt.SJW > bt.PhaseSeg2:
		return fmt.Errorf("regs: sync jump width %d exceeds phase segment 2 %d", bt.SJW, bt.PhaseSeg2)
	}
	return nil
}
