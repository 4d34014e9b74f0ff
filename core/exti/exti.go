// Package exti dispatches external (pin-change) interrupt lines to
// per-line handler objects.
//
// Lines either own a CPU vector ("direct") or share one with neighbours
// ("grouped"); the Layout says which. Every vector the layout names is
// subscribed to the irq.Table when the Manager is created. Handlers are
// linked into the bucket of their line with an intrusive list node, so
// subscribing never allocates.
//
// A subscribed line starts masked. Events are only delivered after an
// explicit Unmask, and every delivery masks the line again: the callback
// (or the thread it wakes) re-arms it with Unmask when it is ready for the
// next event.
package exti

import (
	"fmt"
	"strconv"

	"thecore/core"
	"thecore/core/irq"
)

// MaxLines is the width of the EXTI mask and pending registers.
const MaxLines = 32

// Trigger selects the condition that latches a line.
type Trigger uint8

// Supported triggers
const (
	Rising Trigger = iota
	Falling
	Both
	High
	Low
)

var triggerNames = [...]string{
	Rising:  "rising",
	Falling: "falling",
	Both:    "both",
	High:    "high",
	Low:     "low",
}

func (t Trigger) String() string {
	if int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return "trigger(" + strconv.Itoa(int(t)) + ")"
}

// ParseTrigger converts a trigger name back into a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	for i, name := range triggerNames {
		if name == s {
			return Trigger(i), nil
		}
	}
	return 0, fmt.Errorf("unknown trigger %q: %w", s, core.Inval)
}

// Port identifies a GPIO port (A = 0, B = 1, ...).
type Port uint8

func (p Port) String() string {
	if p < 26 {
		return string(rune('A' + p))
	}
	return "P" + strconv.Itoa(int(p))
}

// Line is an EXTI line number. On most parts line n is pin n of whichever
// port is routed to it.
type Line uint8

func (l Line) bit() uint32 {
	return 1 << l
}

// Pin describes an interrupt-capable GPIO.
type Pin interface {
	Port() Port
	Line() Line
}

// PinID is the runtime form of a Pin.
type PinID struct {
	P Port
	L Line
}

// Port implements Pin.
func (p PinID) Port() Port { return p.P }

// Line implements Pin.
func (p PinID) Line() Line { return p.L }

func (p PinID) String() string {
	return p.P.String() + strconv.Itoa(int(p.L))
}

// Peripheral is the register-level contract of the external interrupt
// controller. All methods are synchronous and infallible, except
// Configure, which fails with core.NotSup for triggers the hardware
// cannot detect.
type Peripheral interface {
	// Configure routes port to line and selects its trigger. The mask bit
	// is left untouched.
	Configure(line Line, port Port, trigger Trigger) error
	// Disable removes the trigger configuration of a line.
	Disable(line Line)

	IMR() uint32
	SetIMR(mask uint32)
	PR() uint32
	// ClearPR clears the pending bits set in mask.
	ClearPR(mask uint32)
}

// Direct maps one line to a dedicated vector.
type Direct struct {
	Line Line    `yaml:"line"`
	IRQ  irq.Num `yaml:"irq"`
}

// Group maps the inclusive line range [First, Last] to a shared vector.
type Group struct {
	IRQ   irq.Num `yaml:"irq"`
	First Line    `yaml:"first"`
	Last  Line    `yaml:"last"`
}

func (g Group) mask() uint32 {
	var m uint32
	for l := g.First; l <= g.Last && int(l) < MaxLines; l++ {
		m |= l.bit()
	}
	return m
}

// Layout describes how lines are wired to CPU vectors.
type Layout struct {
	Direct []Direct `yaml:"direct"`
	Groups []Group  `yaml:"groups"`
}

// Validate checks that every line is mapped at most once and fits the
// registers, and that no two buckets share a vector.
func (l Layout) Validate() error {
	vectors := make(map[irq.Num]bool)
	vector := func(n irq.Num) error {
		if vectors[n] {
			return fmt.Errorf("exti irq %d used by two buckets: %w", n, core.Inval)
		}
		vectors[n] = true
		return nil
	}

	var seen uint32
	claim := func(line Line) error {
		if int(line) >= MaxLines {
			return fmt.Errorf("exti line %d: %w", line, core.Range)
		}
		if seen&line.bit() != 0 {
			return fmt.Errorf("exti line %d mapped twice: %w", line, core.Inval)
		}
		seen |= line.bit()
		return nil
	}

	for _, d := range l.Direct {
		if err := claim(d.Line); err != nil {
			return err
		}
		if err := vector(d.IRQ); err != nil {
			return err
		}
	}
	for _, g := range l.Groups {
		if err := vector(g.IRQ); err != nil {
			return err
		}
		if g.First > g.Last {
			return fmt.Errorf("exti group irq %d: empty range %d..%d: %w", g.IRQ, g.First, g.Last, core.Inval)
		}
		for line := g.First; line <= g.Last; line++ {
			if err := claim(line); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lines returns the mask of every line the layout maps.
func (l Layout) Lines() uint32 {
	var m uint32
	for _, d := range l.Direct {
		m |= d.Line.bit()
	}
	for _, g := range l.Groups {
		m |= g.mask()
	}
	return m
}

// VectorLines returns the mask of lines served by each vector.
func (l Layout) VectorLines() map[irq.Num]uint32 {
	out := make(map[irq.Num]uint32)
	for _, d := range l.Direct {
		out[d.IRQ] |= d.Line.bit()
	}
	for _, g := range l.Groups {
		out[g.IRQ] |= g.mask()
	}
	return out
}

// STM32F4 is the classic STM32 layout: EXTI0..4 have their own vectors,
// 5..9 and 10..15 are grouped.
func STM32F4() Layout {
	return Layout{
		Direct: []Direct{
			{Line: 0, IRQ: 6},
			{Line: 1, IRQ: 7},
			{Line: 2, IRQ: 8},
			{Line: 3, IRQ: 9},
			{Line: 4, IRQ: 10},
		},
		Groups: []Group{
			{IRQ: 23, First: 5, Last: 9},
			{IRQ: 40, First: 10, Last: 15},
		},
	}
}
