// Package irq maps interrupt vectors to dynamically replaceable handlers.
//
// A Table is created once at boot with Init and handed to every component
// that subscribes to interrupts. Every vector always has a handler: the
// default one aborts the system, since an unowned interrupt firing means
// the registry and the hardware disagree.
//
// The dispatch policy is mask-service-unmask: the trampoline masks the
// vector before calling its handler, and the handler is expected to clear
// the pending flag and unmask the vector again once it is done.
package irq

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"thecore/core"
)

// Num is a platform interrupt number.
type Num int

// Handler is invoked from interrupt context.
type Handler func()

// State is the saved global interrupt state returned by DisableInterrupts.
type State uintptr

// Controller is the interrupt controller contract a platform provides
// (NVIC or equivalent). All methods are infallible and synchronous.
type Controller interface {
	// Mask disables a single vector at the controller.
	Mask(n Num)
	// Unmask enables a single vector at the controller.
	Unmask(n Num)
	// Clear drops a pending-but-not-serviced request for the vector.
	Clear(n Num)

	// DisableInterrupts masks all interrupts and returns the previous state.
	DisableInterrupts() State
	// RestoreInterrupts restores a state returned by DisableInterrupts.
	RestoreInterrupts(state State)
	// EnableInterrupts unconditionally enables interrupts globally.
	EnableInterrupts()

	// Active returns the vector currently being serviced.
	Active() Num
}

// Table is the process-wide vector-to-handler mapping.
type Table struct {
	ctrl     Controller
	handlers []Handler
	active   []bool

	log   *logrus.Entry
	trace *core.Trace
	abort func(reason string)
}

// Option configures a Table.
type Option func(*Table)

// WithLogger replaces the component logger.
func WithLogger(log *logrus.Entry) Option {
	return func(t *Table) {
		t.log = log
	}
}

// WithTrace records every dispatch into the given ring.
func WithTrace(tr *core.Trace) Option {
	return func(t *Table) {
		t.trace = tr
	}
}

// WithAbort replaces the fatal path taken by the default handler.
func WithAbort(abort func(reason string)) Option {
	return func(t *Table) {
		t.abort = abort
	}
}

// Init creates the handler table for count vectors, installs the default
// handler in every slot and enables interrupts globally. It is the only
// way to obtain a Table, so subscribing before initialization cannot be
// expressed.
func Init(ctrl Controller, count int, opts ...Option) *Table {
	if ctrl == nil {
		panic("irq: controller not configured")
	}
	if count <= 0 {
		panic("irq: vector count must be positive")
	}

	t := &Table{
		ctrl:     ctrl,
		handlers: make([]Handler, count),
		active:   make([]bool, count),
		log:      core.Logger("irq"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.abort == nil {
		t.abort = func(reason string) { core.Abort(reason, t.trace) }
	}

	for i := range t.handlers {
		n := Num(i)
		t.handlers[i] = func() { t.unhandled(n) }
	}

	ctrl.EnableInterrupts()
	t.log.WithField("count", count).Debug("vector table initialized")

	return t
}

// Count returns the number of vectors in the table.
func (t *Table) Count() int {
	return len(t.handlers)
}

// Controller returns the underlying interrupt controller.
func (t *Table) Controller() Controller {
	return t.ctrl
}

func (t *Table) check(n Num) error {
	if n < 0 || int(n) >= len(t.handlers) {
		return fmt.Errorf("irq %d outside [0, %d): %w", n, len(t.handlers), core.Range)
	}
	return nil
}

// Subscribe installs h for vector n. Once Subscribe returns the previous
// handler will never run again; h may run as soon as n is unmasked.
func (t *Table) Subscribe(n Num, h Handler) error {
	if err := t.check(n); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("irq %d: nil handler: %w", n, core.Inval)
	}

	state := t.ctrl.DisableInterrupts()
	t.handlers[n] = h
	t.active[n] = true
	t.ctrl.RestoreInterrupts(state)

	t.log.WithField("irq", int(n)).Debug("subscribed")
	return nil
}

// Unsubscribe restores the default handler for vector n.
func (t *Table) Unsubscribe(n Num) error {
	if err := t.check(n); err != nil {
		return err
	}

	state := t.ctrl.DisableInterrupts()
	t.handlers[n] = func() { t.unhandled(n) }
	t.active[n] = false
	t.ctrl.RestoreInterrupts(state)

	t.log.WithField("irq", int(n)).Debug("unsubscribed")
	return nil
}

// Subscribed reports whether vector n has a non-default handler.
func (t *Table) Subscribed(n Num) bool {
	if t.check(n) != nil {
		return false
	}
	state := t.ctrl.DisableInterrupts()
	defer t.ctrl.RestoreInterrupts(state)
	return t.active[n]
}

// Mask disables vector n at the controller. The handler table is untouched.
func (t *Table) Mask(n Num) {
	t.ctrl.Mask(n)
}

// Unmask enables vector n at the controller.
func (t *Table) Unmask(n Num) {
	t.ctrl.Unmask(n)
}

// Clear drops a pending request for vector n.
func (t *Table) Clear(n Num) {
	t.ctrl.Clear(n)
}

// DisableInterrupts opens a global critical section.
func (t *Table) DisableInterrupts() State {
	return t.ctrl.DisableInterrupts()
}

// RestoreInterrupts closes a critical section opened by DisableInterrupts.
func (t *Table) RestoreInterrupts(state State) {
	t.ctrl.RestoreInterrupts(state)
}

// ISR is the trampoline wired into the hardware vector table. It finds the
// active vector and dispatches it.
func (t *Table) ISR() {
	t.Dispatch(t.ctrl.Active())
}

// Dispatch masks vector n to prevent the same source from re-entering and
// runs its handler. The handler owns clearing and unmasking the vector.
func (t *Table) Dispatch(n Num) {
	if t.check(n) != nil {
		t.abort("dispatch of invalid irq " + strconv.Itoa(int(n)))
		return
	}

	t.ctrl.Mask(n)
	h := t.handlers[n]
	if t.active[n] {
		t.trace.Record(core.EvtIRQDispatch, int32(n), 0, 0)
	}
	h()
}

// unhandled is the default handler: an interrupt nobody owns is fatal.
func (t *Table) unhandled(n Num) {
	t.trace.Record(core.EvtIRQDefault, int32(n), 0, 0)
	t.abort("unhandled irq " + strconv.Itoa(int(n)))
}
