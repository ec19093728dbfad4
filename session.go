package canfd

import (
	"errors"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/wirebit/canfd/frame"
	"github.com/wirebit/canfd/regs"
	"github.com/wirebit/canfd/spi"
)

type m = map[string]any

// FrameMode selects the controller's payload class: classic CAN with 8 byte
// payloads or CAN-FD with 64 byte payloads. The ring layout, the object
// sizes and the operating mode all follow from it.
type FrameMode int

const (
	ModeClassic FrameMode = iota
	ModeFD
)

var (
	// ErrBusy means every transmit ring holds an unconfirmed frame. The
	// caller owns back-pressure; retry after a completion.
	ErrBusy = errors.New("canfd: all transmit rings in flight")

	// ErrWrongWiring is the bring-up failure for a controller whose
	// post-reset registers never match the expected defaults.
	ErrWrongWiring = errors.New("canfd: controller not responding, wrong wiring?")

	// ErrClockLock means the oscillator never reported lock within the
	// bring-up budget.
	ErrClockLock = errors.New("canfd: oscillator never locked")

	errNotConfigured = errors.New("canfd: session has not been brought up")
)

// Device is the delivery sink the engine feeds: received frames go down,
// transmit confirmations and overflow notices come back. Implementations
// must not block; the dispatcher calls them from the drain loop.
type Device interface {
	// Deliver hands over one received frame with its raw hardware timestamp.
	Deliver(f frame.Frame, timestamp uint32)

	// Confirm reports that the frame in flight on ring is on the bus and the
	// ring's resources are released.
	Confirm(ring int, ev frame.TefEvent)

	// Overflow reports, once per drain pass, the set of receive rings that
	// dropped frames since the last pass.
	Overflow(rings uint32)
}

// Options configures a session before bring-up.
type Options struct {
	Mode    FrameMode
	Nominal regs.BitTiming
	Data    regs.BitTiming // used when Mode is ModeFD

	// Loopback keeps the controller in internal loopback after activation,
	// for self test without a transceiver.
	Loopback bool

	// ClockBudget bounds the one-time oscillator lock wait. This is the only
	// internal timeout in the engine.
	ClockBudget time.Duration
}

// Session owns one configuration session with the controller: the transport,
// the discovered ring layout, the in-flight state and the counters. It is
// created on bring-up and discarded on tear-down. The submission path and
// the dispatcher both touch pending state, serialized by mu.
type Session struct {
	l   *logrus.Logger
	tr  *spi.Transport
	dev Device
	opt Options

	rings ringLayout
	up    bool

	// busMu serializes bus ownership: a submission and a drain iteration
	// never interleave, so a status block always reflects a consistent
	// pending/TXREQ pair and the transport scratch buffers are safe.
	busMu sync.Mutex

	mu        sync.Mutex
	pending   uint32     // ring indices with an unconfirmed transmission
	txLen     [32]uint16 // payload length recorded at submission, per ring
	tefCursor uint16

	rxBuf []byte // scratch for batched receive reads

	closed atomic.Bool

	metricRxPackets   metrics.Counter
	metricRxBytes     metrics.Counter
	metricTxPackets   metrics.Counter
	metricTxSubmitted metrics.Counter
	metricTxBytes     metrics.Counter
	metricRxOverflows metrics.Counter
	metricTxDropped   metrics.Counter
	metricBusErrors   metrics.Counter
	metricDrainPasses metrics.Counter
}

const defaultClockBudget = 250 * time.Millisecond

func NewSession(l *logrus.Logger, tr *spi.Transport, dev Device, opt Options) *Session {
	if opt.ClockBudget == 0 {
		opt.ClockBudget = defaultClockBudget
	}
	return &Session{
		l:   l,
		tr:  tr,
		dev: dev,
		opt: opt,

		metricRxPackets:   metrics.GetOrRegisterCounter("can.rx.packets", nil),
		metricRxBytes:     metrics.GetOrRegisterCounter("can.rx.bytes", nil),
		metricTxPackets:   metrics.GetOrRegisterCounter("can.tx.packets", nil),
		metricTxSubmitted: metrics.GetOrRegisterCounter("can.tx.submitted", nil),
		metricTxBytes:     metrics.GetOrRegisterCounter("can.tx.bytes", nil),
		metricRxOverflows: metrics.GetOrRegisterCounter("can.rx.overflows", nil),
		metricTxDropped:   metrics.GetOrRegisterCounter("can.tx.dropped", nil),
		metricBusErrors:   metrics.GetOrRegisterCounter("can.bus.errors", nil),
		metricDrainPasses: metrics.GetOrRegisterCounter("can.drain.passes", nil),
	}
}

// Pending returns the current set of rings with unconfirmed transmissions.
func (s *Session) Pending() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Busy reports whether every transmit ring is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bits.OnesCount32(s.pending&s.rings.txMask()) == s.rings.txCount
}

// Close marks the session cancelled and requests configuration mode so the
// controller stops bus activity. The drain loop observes the flag at its
// next iteration; nothing is aborted mid-transaction.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if !s.up {
		return nil
	}
	s.busMu.Lock()
	defer s.busMu.Unlock()
	return s.requestMode(regs.ModeConfig)
}
