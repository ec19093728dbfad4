package canfd

import (
	"github.com/wirebit/canfd/frame"
)

// Received is one inbound frame with its hardware timestamp.
type Received struct {
	Frame     frame.Frame
	Timestamp uint32
}

// Completion is one confirmed transmission.
type Completion struct {
	Ring  int
	Event frame.TefEvent
}

// ChanDevice is a channel-backed Device for callers that want to consume
// traffic from their own goroutines. Deliveries and confirmations are
// dropped, not blocked on, when a consumer falls behind; the dispatcher must
// never stall on a slow reader.
type ChanDevice struct {
	Rx        chan Received
	Done      chan Completion
	Overflows chan uint32
}

func NewChanDevice(depth int) *ChanDevice {
	return &ChanDevice{
		Rx:        make(chan Received, depth),
		Done:      make(chan Completion, depth),
		Overflows: make(chan uint32, 1),
	}
}

func (d *ChanDevice) Deliver(f frame.Frame, timestamp uint32) {
	select {
	case d.Rx <- Received{Frame: f, Timestamp: timestamp}:
	default:
	}
}

func (d *ChanDevice) Confirm(ring int, ev frame.TefEvent) {
	select {
	case d.Done <- Completion{Ring: ring, Event: ev}:
	default:
	}
}

func (d *ChanDevice) Overflow(rings uint32) {
	select {
	case d.Overflows <- rings:
	default:
	}
}
