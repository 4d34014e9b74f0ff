package exti

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"thecore/core"
	"thecore/core/irq"
	"thecore/core/list"
)

// bucket is the registry of one CPU vector. A direct bucket serves one line
// and holds at most one handler; a grouped bucket serves a line range.
type bucket struct {
	irq      irq.Num
	lines    uint32
	grouped  bool
	handlers list.List[Handler]
}

// Manager owns the external interrupt peripheral and its vectors.
type Manager struct {
	table  *irq.Table
	periph Peripheral
	layout Layout

	buckets []*bucket
	byLine  [MaxLines]*bucket
	owner   [MaxLines]*Handler

	log   *logrus.Entry
	trace *core.Trace
	abort func(reason string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger replaces the component logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithTrace records every dispatch into the given ring.
func WithTrace(tr *core.Trace) Option {
	return func(m *Manager) {
		m.trace = tr
	}
}

// WithAbort replaces the fatal path taken when an un-owned line fires.
func WithAbort(abort func(reason string)) Option {
	return func(m *Manager) {
		m.abort = abort
	}
}

// New masks every mapped line, subscribes the dispatchers of all layout
// vectors to table and unmasks those vectors.
func New(table *irq.Table, periph Peripheral, layout Layout, opts ...Option) (*Manager, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		table:  table,
		periph: periph,
		layout: layout,
		log:    core.Logger("exti"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.abort == nil {
		m.abort = func(reason string) { core.Abort(reason, m.trace) }
	}

	for _, d := range layout.Direct {
		m.addBucket(&bucket{irq: d.IRQ, lines: d.Line.bit()})
	}
	for _, g := range layout.Groups {
		m.addBucket(&bucket{irq: g.IRQ, lines: g.mask(), grouped: true})
	}

	for _, b := range m.buckets {
		if b.irq < 0 || int(b.irq) >= table.Count() {
			return nil, fmt.Errorf("exti vector: irq %d outside [0, %d): %w", b.irq, table.Count(), core.Range)
		}
	}

	all := layout.Lines()
	state := table.DisableInterrupts()
	periph.SetIMR(periph.IMR() &^ all)
	periph.ClearPR(all)
	table.RestoreInterrupts(state)

	for _, b := range m.buckets {
		isr := func() { m.directISR(b) }
		if b.grouped {
			isr = func() { m.groupISR(b) }
		}
		if err := table.Subscribe(b.irq, isr); err != nil {
			return nil, fmt.Errorf("exti vector: %w", err)
		}
		table.Clear(b.irq)
		table.Unmask(b.irq)
	}

	m.log.WithFields(logrus.Fields{
		"direct":  len(layout.Direct),
		"grouped": len(layout.Groups),
	}).Debug("exti manager ready")

	return m, nil
}

func (m *Manager) addBucket(b *bucket) {
	m.buckets = append(m.buckets, b)
	for l := 0; l < MaxLines; l++ {
		if b.lines&(1<<l) != 0 {
			m.byLine[l] = b
		}
	}
}

// Layout returns the line-to-vector mapping the manager was built with.
func (m *Manager) Layout() Layout {
	return m.layout
}

// Peripheral returns the underlying register interface.
func (m *Manager) Peripheral() Peripheral {
	return m.periph
}

// Subscribe links h to the line of pin with the given trigger. The line is
// left masked; call Unmask to start receiving events.
func (m *Manager) Subscribe(h *Handler, pin Pin, trigger Trigger) error {
	line := pin.Line()
	if int(line) >= MaxLines || m.byLine[line] == nil {
		return fmt.Errorf("exti line %d not mapped: %w", line, core.Range)
	}
	b := m.byLine[line]

	state := m.table.DisableInterrupts()
	defer m.table.RestoreInterrupts(state)

	if h.node.Linked() {
		return fmt.Errorf("exti line %d: handler already subscribed: %w", line, core.Already)
	}
	if m.owner[line] != nil {
		return fmt.Errorf("exti line %d in use: %w", line, core.Busy)
	}

	bit := line.bit()
	m.periph.SetIMR(m.periph.IMR() &^ bit)
	if err := m.periph.Configure(line, pin.Port(), trigger); err != nil {
		return fmt.Errorf("exti line %d trigger %s: %w", line, trigger, err)
	}
	m.periph.ClearPR(bit)

	h.node.Init(h)
	h.mgr = m
	h.port = pin.Port()
	h.line = line
	b.handlers.PushBack(&h.node)
	m.owner[line] = h

	m.log.WithFields(logrus.Fields{
		"pin":     PinID{P: pin.Port(), L: line}.String(),
		"trigger": trigger.String(),
	}).Debug("subscribed")
	return nil
}

// Subscribe binds h to the pin described by the type G, so the line is
// known at compile time:
//
//	type ButtonPin struct{}
//	func (ButtonPin) Port() exti.Port { return 0 }
//	func (ButtonPin) Line() exti.Line { return 0 }
//
//	exti.Subscribe[ButtonPin](m, h, exti.Rising)
func Subscribe[G Pin](m *Manager, h *Handler, trigger Trigger) error {
	var pin G
	return m.Subscribe(h, pin, trigger)
}

// Unsubscribe unlinks h, de-configures its line, masks it and drops any
// pending event. After it returns the callback will not run again.
func (m *Manager) Unsubscribe(h *Handler) error {
	state := m.table.DisableInterrupts()
	defer m.table.RestoreInterrupts(state)

	if h.mgr != m || !h.node.Linked() {
		return fmt.Errorf("exti: handler not subscribed: %w", core.NoEnt)
	}

	line := h.line
	bit := line.bit()
	h.node.Unlink()
	h.mgr = nil
	m.owner[line] = nil

	m.periph.Disable(line)
	m.periph.SetIMR(m.periph.IMR() &^ bit)
	m.periph.ClearPR(bit)
	m.table.Clear(m.byLine[line].irq)

	m.log.WithField("pin", h.Pin().String()).Debug("unsubscribed")
	return nil
}

// Mask stops event delivery for the line of h.
func (m *Manager) Mask(h *Handler) error {
	state := m.table.DisableInterrupts()
	defer m.table.RestoreInterrupts(state)

	if h.mgr != m {
		return fmt.Errorf("exti: handler not subscribed: %w", core.NoEnt)
	}
	m.periph.SetIMR(m.periph.IMR() &^ h.line.bit())
	return nil
}

// Unmask (re-)enables event delivery for the line of h. Events that
// occurred while the line was masked are discarded, not delivered.
func (m *Manager) Unmask(h *Handler) error {
	state := m.table.DisableInterrupts()
	defer m.table.RestoreInterrupts(state)

	if h.mgr != m {
		return fmt.Errorf("exti: handler not subscribed: %w", core.NoEnt)
	}
	bit := h.line.bit()
	m.periph.ClearPR(bit)
	m.periph.SetIMR(m.periph.IMR() | bit)
	return nil
}

// Masked reports whether the line of h is currently masked. A handler not
// subscribed to m is always masked.
func (m *Manager) Masked(h *Handler) bool {
	if h.mgr != m {
		return true
	}
	return m.periph.IMR()&h.line.bit() == 0
}

// directISR services a line with a dedicated vector.
func (m *Manager) directISR(b *bucket) {
	h := b.handlers.Front()
	if h == nil {
		m.abort("exti: un-owned direct line fired on irq " + strconv.Itoa(int(b.irq)))
		return
	}

	// A request left over from a line that was masked meanwhile is dropped.
	bit := h.line.bit()
	if m.periph.PR()&m.periph.IMR()&bit != 0 {
		m.periph.SetIMR(m.periph.IMR() &^ bit)
		m.periph.ClearPR(bit)
		m.trace.Record(core.EvtEXTIDirect, int32(h.line), 0, 0)

		h.invoke()
	}

	m.table.Clear(b.irq)
	m.table.Unmask(b.irq)
}

// groupISR services every flagged line of a shared vector in one pass over
// the registry, in subscription order.
func (m *Manager) groupISR(b *bucket) {
	status := m.periph.PR() & m.periph.IMR() & b.lines
	var served uint32

	for it := b.handlers.Iter(); it.Valid(); it.Next() {
		h := it.Value()
		bit := h.line.bit()
		if status&bit == 0 {
			continue
		}
		m.periph.SetIMR(m.periph.IMR() &^ bit)
		m.periph.ClearPR(bit)
		served |= bit
		h.invoke()
	}

	m.trace.Record(core.EvtEXTIGrouped, int32(b.irq), status, served)

	if rest := status &^ served; rest != 0 {
		m.abort(fmt.Sprintf("exti: un-owned lines %#x fired on irq %d", rest, b.irq))
		return
	}

	m.table.Clear(b.irq)
	m.table.Unmask(b.irq)
}
