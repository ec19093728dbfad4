package canfd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebit/canfd/regs"
	"github.com/wirebit/canfd/spi"
)

// deadConn answers every exchange with zeroes, like a miswired or absent
// controller would.
type deadConn struct{}

func (deadConn) Exchange(tx, rx []byte) error { return nil }
func (deadConn) Close() error                 { return nil }

func TestUpWrongWiring(t *testing.T) {
	s := NewSession(testLogger(), spi.NewTransport(deadConn{}), &testDevice{}, testOptions(ModeFD))

	err := s.Up()
	require.ErrorIs(t, err, ErrWrongWiring)
	assert.Contains(t, err.Error(), "CON=0x00000000")

	// A failed probe leaves no ring state behind.
	assert.False(t, s.up)
	assert.Nil(t, s.rxBuf)
	assert.Zero(t, s.tefCursor)
}

func TestUpClockNeverLocks(t *testing.T) {
	c := spi.NewMemConn()
	c.OscLockAfter = 1 << 30
	opt := testOptions(ModeFD)
	opt.ClockBudget = 3 * time.Millisecond
	s := NewSession(testLogger(), spi.NewTransport(c), &testDevice{}, opt)

	err := s.Up()
	require.ErrorIs(t, err, ErrClockLock)
	assert.False(t, s.up)
}

func TestUpSlowClock(t *testing.T) {
	c := spi.NewMemConn()
	c.OscLockAfter = 2 // ready on the third look
	s := NewSession(testLogger(), spi.NewTransport(c), &testDevice{}, testOptions(ModeFD))
	require.NoError(t, s.Up())
}

func TestUpRejectsBadTiming(t *testing.T) {
	c := spi.NewMemConn()
	opt := testOptions(ModeFD)
	opt.Nominal.Prescaler = 0
	s := NewSession(testLogger(), spi.NewTransport(c), &testDevice{}, opt)
	require.Error(t, s.Up())
	assert.False(t, s.up)
}

func TestUpWritesBitTiming(t *testing.T) {
	_, c, _ := newTestSession(t, ModeFD, false)

	opt := testOptions(ModeFD)
	assert.Equal(t, opt.Nominal.Pack(), c.Reg(regs.NbtCfg))
	assert.Equal(t, opt.Data.Pack(), c.Reg(regs.DbtCfg))

	// Delay compensation in auto mode, offset at the data phase sample point.
	tdc := c.Reg(regs.Tdc)
	assert.Equal(t, uint32(regs.TdcModeAuto), regs.TdcMode.Get(tdc))
	assert.Equal(t, opt.Data.PropSeg+opt.Data.PhaseSeg1, regs.TdcOffset.Get(tdc))

	// Classic sessions leave the data phase registers alone.
	c2 := spi.NewMemConn()
	s2 := NewSession(testLogger(), spi.NewTransport(c2), &testDevice{}, testOptions(ModeClassic))
	require.NoError(t, s2.Up())
	assert.Zero(t, c2.Reg(regs.DbtCfg))
}

func TestActivateModes(t *testing.T) {
	s, c, _ := newTestSession(t, ModeFD, false)
	require.NoError(t, s.Activate())
	assert.Equal(t, uint32(regs.ModeMixed), regs.ConOpMod.Get(c.Reg(regs.Con)))

	s, c, _ = newTestSession(t, ModeClassic, false)
	require.NoError(t, s.Activate())
	assert.Equal(t, uint32(regs.ModeClassic), regs.ConOpMod.Get(c.Reg(regs.Con)))

	s, c, _ = newTestSession(t, ModeClassic, true)
	require.NoError(t, s.Activate())
	assert.Equal(t, uint32(regs.ModeInternalLoopback), regs.ConOpMod.Get(c.Reg(regs.Con)))
}

func TestUpEnablesInterrupts(t *testing.T) {
	_, c, _ := newTestSession(t, ModeFD, false)

	ie := c.Reg(regs.Int)
	assert.NotZero(t, ie&regs.IntRxIE)
	assert.NotZero(t, ie&regs.IntTefIE)
	assert.NotZero(t, ie&regs.IntRxOvIE)
	assert.NotZero(t, ie&regs.IntCErrIE)
	assert.Zero(t, ie&regs.IntFlagMask, "no flags asserted after bring-up")
}

func TestUpEnablesProtection(t *testing.T) {
	_, c, _ := newTestSession(t, ModeFD, false)

	assert.NotZero(t, c.Reg(regs.EccCon)&regs.EccConEn)
	assert.NotZero(t, c.Reg(regs.Crc)&regs.CrcErrIE)
	assert.NotZero(t, c.Reg(regs.TsCon)&regs.TsConTbcEn)
}
