// Package sim is the host-simulation target. It models just enough of a
// single-core microcontroller (interrupt controller, external interrupt
// peripheral, GPIO levels and a DMA-driven bus) to run the HAL unchanged on
// a workstation and in tests.
package sim

import (
	"sync"

	bitmap "github.com/boljen/go-bitmap"

	"thecore/core/irq"
)

// NoIRQ is returned by Active when no vector is being serviced.
const NoIRQ irq.Num = -1

// CPU models an NVIC-style interrupt controller in front of a single core.
//
// Interrupts are delivered synchronously on the goroutine that makes them
// deliverable (Raise, Unmask, RestoreInterrupts, EnableInterrupts), which
// is how a hardware interrupt preempts whatever the core was running.
// Vectors share one priority: an active handler is never preempted, and
// requests raised meanwhile stay pending until it returns. Lower vector
// numbers win when several are pending.
//
// Thread code and interrupt sources are expected to run on one goroutine.
// Other goroutines may call Raise; their requests are serialized behind
// any handler already running.
type CPU struct {
	mu      sync.Mutex
	count   int
	enabled bitmap.Bitmap
	pending bitmap.Bitmap
	primask bool
	stack   []irq.Num
	taken   []int
	sources []func() bool
	isr     func()
}

// NewCPU creates a controller with count vectors, all masked, and global
// interrupts disabled as after reset.
func NewCPU(count int) *CPU {
	return &CPU{
		count:   count,
		enabled: bitmap.New(count),
		pending: bitmap.New(count),
		primask: true,
		taken:   make([]int, count),
		sources: make([]func() bool, count),
	}
}

// Connect wires a level-sensitive interrupt source to vector n. While the
// source reports asserted, clearing or unmasking the vector re-latches the
// request, as an NVIC input driven by a peripheral's pending register does.
func (c *CPU) Connect(n irq.Num, asserted func() bool) {
	if !c.valid(n) {
		return
	}
	c.mu.Lock()
	c.sources[n] = asserted
	c.mu.Unlock()
}

// asserted samples the source of vector n without holding the lock.
func (c *CPU) asserted(n irq.Num) bool {
	c.mu.Lock()
	src := c.sources[n]
	c.mu.Unlock()
	return src != nil && src()
}

// Attach installs the single trampoline the vector table jumps to.
func (c *CPU) Attach(isr func()) {
	c.mu.Lock()
	c.isr = isr
	c.mu.Unlock()
}

// Count returns the number of vectors.
func (c *CPU) Count() int {
	return c.count
}

func (c *CPU) valid(n irq.Num) bool {
	return n >= 0 && int(n) < c.count
}

// Mask disables vector n.
func (c *CPU) Mask(n irq.Num) {
	if !c.valid(n) {
		return
	}
	c.mu.Lock()
	c.enabled.Set(int(n), false)
	c.mu.Unlock()
}

// Unmask enables vector n and delivers it if it is already pending.
func (c *CPU) Unmask(n irq.Num) {
	if !c.valid(n) {
		return
	}
	level := c.asserted(n)
	c.mu.Lock()
	c.enabled.Set(int(n), true)
	if level {
		c.pending.Set(int(n), true)
	}
	c.mu.Unlock()
	c.deliver()
}

// Clear drops a pending request for vector n. A connected source that is
// still asserted latches it again immediately.
func (c *CPU) Clear(n irq.Num) {
	if !c.valid(n) {
		return
	}
	level := c.asserted(n)
	c.mu.Lock()
	c.pending.Set(int(n), level)
	c.mu.Unlock()
}

// DisableInterrupts sets PRIMASK and returns its previous value.
func (c *CPU) DisableInterrupts() irq.State {
	c.mu.Lock()
	prev := c.primask
	c.primask = true
	c.mu.Unlock()
	if prev {
		return 1
	}
	return 0
}

// RestoreInterrupts restores PRIMASK and delivers anything that became
// deliverable.
func (c *CPU) RestoreInterrupts(state irq.State) {
	c.mu.Lock()
	c.primask = state != 0
	c.mu.Unlock()
	c.deliver()
}

// EnableInterrupts clears PRIMASK.
func (c *CPU) EnableInterrupts() {
	c.RestoreInterrupts(0)
}

// Active returns the vector being serviced, or NoIRQ.
func (c *CPU) Active() irq.Num {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stack) == 0 {
		return NoIRQ
	}
	return c.stack[len(c.stack)-1]
}

// Raise latches a request for vector n, as a peripheral would.
func (c *CPU) Raise(n irq.Num) {
	if !c.valid(n) {
		return
	}
	c.mu.Lock()
	c.pending.Set(int(n), true)
	c.mu.Unlock()
	c.deliver()
}

// Pending reports whether vector n has a latched request.
func (c *CPU) Pending(n irq.Num) bool {
	if !c.valid(n) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Get(int(n))
}

// Enabled reports whether vector n is unmasked.
func (c *CPU) Enabled(n irq.Num) bool {
	if !c.valid(n) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled.Get(int(n))
}

// InterruptsEnabled reports whether PRIMASK is clear.
func (c *CPU) InterruptsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.primask
}

// Taken returns how many times vector n has been entered.
func (c *CPU) Taken(n irq.Num) int {
	if !c.valid(n) {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taken[n]
}

// next picks the lowest pending and enabled vector and marks it active.
// Must be called with the lock held.
func (c *CPU) next() (irq.Num, bool) {
	if c.primask || len(c.stack) > 0 || c.isr == nil {
		return NoIRQ, false
	}
	for i := 0; i < c.count; i++ {
		if c.pending.Get(i) && c.enabled.Get(i) {
			c.pending.Set(i, false)
			c.stack = append(c.stack, irq.Num(i))
			c.taken[i]++
			return irq.Num(i), true
		}
	}
	return NoIRQ, false
}

func (c *CPU) deliver() {
	for {
		c.mu.Lock()
		_, ok := c.next()
		isr := c.isr
		c.mu.Unlock()
		if !ok {
			return
		}

		c.run(isr)
	}
}

// run executes the trampoline and pops the active vector even if the
// handler panics (the fatal path panics on the host).
func (c *CPU) run(isr func()) {
	defer func() {
		c.mu.Lock()
		c.stack = c.stack[:len(c.stack)-1]
		c.mu.Unlock()
	}()
	isr()
}

var _ irq.Controller = (*CPU)(nil)
