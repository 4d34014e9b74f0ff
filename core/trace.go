package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// TraceKind identifies what produced a trace event.
type TraceKind uint8

// Trace event kinds
const (
	EvtNone          TraceKind = iota
	EvtIRQDispatch             // Vector dispatched to a subscribed handler
	EvtIRQDefault              // Vector dispatched to the default handler
	EvtEXTIDirect              // Direct EXTI line serviced
	EvtEXTIGrouped             // Grouped EXTI pass completed
	EvtBusXferStart            // Bus transfer started
	EvtBusEvent                // Bus platform event delivered
)

// TraceRingSize is the number of events kept for post-mortem analysis.
const TraceRingSize = 32

// TraceEvent captures one interrupt-path event.
type TraceEvent struct {
	Kind   TraceKind
	Source int32  // IRQ number, EXTI line or bus channel
	Seq    uint32 // Monotonic event counter
	A      uint32 // Context-dependent value
	B      uint32 // Context-dependent value
}

// Trace is a fixed-size ring of the most recent interrupt-path events.
// Recording never allocates. The zero value is ready to use.
type Trace struct {
	mu   sync.Mutex
	ring [TraceRingSize]TraceEvent
	head uint8
	seq  uint32
}

// Record stores an event, overwriting the oldest one when full.
func (t *Trace) Record(kind TraceKind, source int32, a, b uint32) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.seq++
	t.ring[t.head] = TraceEvent{
		Kind:   kind,
		Source: source,
		Seq:    t.seq,
		A:      a,
		B:      b,
	}
	t.head = (t.head + 1) % TraceRingSize
	t.mu.Unlock()
}

// Events returns the recorded events from oldest to newest.
func (t *Trace) Events() []TraceEvent {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := t.ring[(t.head+i)%TraceRingSize]
		if evt.Kind == EvtNone {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Clear drops every recorded event.
func (t *Trace) Clear() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.ring = [TraceRingSize]TraceEvent{}
	t.head = 0
	t.mu.Unlock()
}

func (k TraceKind) String() string {
	switch k {
	case EvtIRQDispatch:
		return "IRQ"
	case EvtIRQDefault:
		return "IRQ_DEFAULT!"
	case EvtEXTIDirect:
		return "EXTI_DIRECT"
	case EvtEXTIGrouped:
		return "EXTI_GROUP"
	case EvtBusXferStart:
		return "XFER_START"
	case EvtBusEvent:
		return "BUS_EVENT"
	default:
		return "UNKNOWN"
	}
}

// Dump writes the ring to the logger, oldest first.
func (t *Trace) Dump(log logrus.FieldLogger) {
	if t == nil || log == nil {
		return
	}
	log.Info("=== trace ring dump ===")
	for _, evt := range t.Events() {
		log.WithFields(logrus.Fields{
			"seq": evt.Seq,
			"src": evt.Source,
			"a":   evt.A,
			"b":   evt.B,
		}).Info(evt.Kind.String())
	}
	log.Info("=== end dump ===")
}
