package sim

import (
	"fmt"
	"slices"
	"sync"

	"thecore/core"
	"thecore/core/exti"
	"thecore/core/irq"
)

// EXTI models an external interrupt controller with STM32-style registers
// (IMR, PR, RTSR, FTSR) plus TM4C-style level detection, fed by simulated
// GPIO levels. A line whose PR and IMR bits are both set holds its CPU
// vector asserted.
type EXTI struct {
	mu  sync.Mutex
	cpu *CPU

	vectors map[irq.Num]uint32

	imr  uint32
	pr   uint32
	rtsr uint32
	ftsr uint32
	hlsr uint32
	llsr uint32
	cfg  uint32

	route    [exti.MaxLines]exti.Port
	levels   map[exti.Port]uint32
	edgeOnly bool
}

// NewEXTI creates the peripheral and connects every vector of layout to
// cpu.
func NewEXTI(cpu *CPU, layout exti.Layout) *EXTI {
	e := &EXTI{
		cpu:     cpu,
		vectors: layout.VectorLines(),
		levels:  make(map[exti.Port]uint32),
	}
	for vec, lines := range e.vectors {
		cpu.Connect(vec, func() bool { return e.asserted(lines) })
	}
	return e
}

// SetEdgeOnly makes Configure reject level triggers, as STM32 parts do.
func (e *EXTI) SetEdgeOnly(edgeOnly bool) {
	e.mu.Lock()
	e.edgeOnly = edgeOnly
	e.mu.Unlock()
}

func (e *EXTI) asserted(lines uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pr&e.imr&lines != 0
}

// Configure implements exti.Peripheral.
func (e *EXTI) Configure(line exti.Line, port exti.Port, trigger exti.Trigger) error {
	if int(line) >= exti.MaxLines {
		return fmt.Errorf("sim exti line %d: %w", line, core.Range)
	}
	bit := uint32(1) << line

	e.mu.Lock()
	if e.edgeOnly && (trigger == exti.High || trigger == exti.Low) {
		e.mu.Unlock()
		return fmt.Errorf("level trigger %s: %w", trigger, core.NotSup)
	}

	e.clearTriggerLocked(bit)
	switch trigger {
	case exti.Rising:
		e.rtsr |= bit
	case exti.Falling:
		e.ftsr |= bit
	case exti.Both:
		e.rtsr |= bit
		e.ftsr |= bit
	case exti.High:
		e.hlsr |= bit
	case exti.Low:
		e.llsr |= bit
	default:
		e.mu.Unlock()
		return fmt.Errorf("trigger %s: %w", trigger, core.NotSup)
	}
	e.route[line] = port
	e.cfg |= bit
	raise := e.updateLocked()
	e.mu.Unlock()

	e.raise(raise)
	return nil
}

// Disable implements exti.Peripheral.
func (e *EXTI) Disable(line exti.Line) {
	if int(line) >= exti.MaxLines {
		return
	}
	bit := uint32(1) << line
	e.mu.Lock()
	e.clearTriggerLocked(bit)
	e.cfg &^= bit
	e.mu.Unlock()
}

func (e *EXTI) clearTriggerLocked(bit uint32) {
	e.rtsr &^= bit
	e.ftsr &^= bit
	e.hlsr &^= bit
	e.llsr &^= bit
}

// IMR implements exti.Peripheral.
func (e *EXTI) IMR() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.imr
}

// SetIMR implements exti.Peripheral.
func (e *EXTI) SetIMR(mask uint32) {
	e.mu.Lock()
	e.imr = mask
	raise := e.updateLocked()
	e.mu.Unlock()
	e.raise(raise)
}

// PR implements exti.Peripheral.
func (e *EXTI) PR() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pr
}

// ClearPR implements exti.Peripheral. Level-triggered lines whose
// condition still holds latch again immediately.
func (e *EXTI) ClearPR(mask uint32) {
	e.mu.Lock()
	e.pr &^= mask
	raise := e.updateLocked()
	e.mu.Unlock()
	e.raise(raise)
}

// Drive sets the level of a GPIO and latches any resulting edge on the
// line the pin is routed to.
func (e *EXTI) Drive(port exti.Port, pin exti.Line, high bool) {
	if int(pin) >= exti.MaxLines {
		return
	}
	bit := uint32(1) << pin

	e.mu.Lock()
	old := e.levels[port]&bit != 0
	if high {
		e.levels[port] |= bit
	} else {
		e.levels[port] &^= bit
	}
	if e.cfg&bit != 0 && e.route[pin] == port {
		if !old && high && e.rtsr&bit != 0 {
			e.pr |= bit
		}
		if old && !high && e.ftsr&bit != 0 {
			e.pr |= bit
		}
	}
	raise := e.updateLocked()
	e.mu.Unlock()

	e.raise(raise)
}

// Level returns the current level of a GPIO.
func (e *EXTI) Level(port exti.Port, pin exti.Line) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.levels[port]&(uint32(1)<<pin) != 0
}

// SoftwareTrigger latches lines as if their trigger had fired, like the
// STM32 SWIER register.
func (e *EXTI) SoftwareTrigger(lines uint32) {
	e.mu.Lock()
	e.pr |= lines & e.cfg
	raise := e.updateLocked()
	e.mu.Unlock()
	e.raise(raise)
}

// updateLocked re-latches level-triggered lines and returns the vectors
// whose lines are pending and unmasked.
func (e *EXTI) updateLocked() []irq.Num {
	for line := 0; line < exti.MaxLines; line++ {
		bit := uint32(1) << line
		if e.cfg&bit == 0 {
			continue
		}
		high := e.levels[e.route[line]]&bit != 0
		if (e.hlsr&bit != 0 && high) || (e.llsr&bit != 0 && !high) {
			e.pr |= bit
		}
	}

	var out []irq.Num
	for vec, lines := range e.vectors {
		if e.pr&e.imr&lines != 0 {
			out = append(out, vec)
		}
	}
	slices.Sort(out)
	return out
}

func (e *EXTI) raise(vectors []irq.Num) {
	for _, vec := range vectors {
		e.cpu.Raise(vec)
	}
}

var _ exti.Peripheral = (*EXTI)(nil)
