package exti_test

import (
	"errors"
	"testing"

	"thecore/core"
	"thecore/core/exti"
	"thecore/core/irq"
	"thecore/host/sim"
)

const portA exti.Port = 0

type rig struct {
	cpu    *sim.CPU
	table  *irq.Table
	periph *sim.EXTI
	mgr    *exti.Manager
	trace  *core.Trace
	aborts []string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{trace: &core.Trace{}}
	hook := func(reason string) { r.aborts = append(r.aborts, reason) }

	r.cpu = sim.NewCPU(64)
	r.table = irq.Init(r.cpu, 64, irq.WithAbort(hook))
	r.cpu.Attach(r.table.ISR)
	r.periph = sim.NewEXTI(r.cpu, exti.STM32F4())

	m, err := exti.New(r.table, r.periph, exti.STM32F4(), exti.WithAbort(hook), exti.WithTrace(r.trace))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	r.mgr = m
	return r
}

func (r *rig) pulse(line exti.Line) {
	r.periph.Drive(portA, line, false)
	r.periph.Drive(portA, line, true)
}

func (r *rig) subscribe(t *testing.T, h *exti.Handler, line exti.Line, trig exti.Trigger) {
	t.Helper()
	if err := r.mgr.Subscribe(h, exti.PinID{P: portA, L: line}, trig); err != nil {
		t.Fatalf("Subscribe line %d failed: %v", line, err)
	}
}

func TestDirectLineEndToEnd(t *testing.T) {
	r := newRig(t)

	type token struct{ name string }
	ctx := &token{name: "button"}
	var got []any
	h := exti.NewHandler(func(c any) { got = append(got, c) }, ctx)

	r.subscribe(t, h, 0, exti.Rising)
	if !r.mgr.Masked(h) {
		t.Error("Line must be masked after subscribe")
	}

	r.pulse(0)
	if len(got) != 0 {
		t.Fatalf("No callback may fire before unmask, got %d", len(got))
	}

	if err := r.mgr.Unmask(h); err != nil {
		t.Fatalf("Unmask failed: %v", err)
	}
	if len(got) != 0 {
		t.Error("Event latched while masked must not be delivered retroactively")
	}

	r.pulse(0)
	if len(got) != 1 {
		t.Fatalf("Expected 1 callback, got %d", len(got))
	}
	if got[0] != ctx {
		t.Error("Callback must receive the registered context")
	}
	if !r.mgr.Masked(h) {
		t.Error("Line must be left masked after delivery")
	}

	r.pulse(0)
	if len(got) != 1 {
		t.Errorf("Masked line must not deliver, got %d callbacks", len(got))
	}

	_ = r.mgr.Unmask(h)
	r.pulse(0)
	if len(got) != 2 {
		t.Errorf("Expected second delivery after re-unmask, got %d", len(got))
	}
	if len(r.aborts) != 0 {
		t.Errorf("Unexpected abort: %v", r.aborts)
	}
	if !r.cpu.Enabled(6) {
		t.Error("Direct vector must be unmasked again after service")
	}
}

func TestFallingAndBothEdges(t *testing.T) {
	r := newRig(t)

	falls, both := 0, 0
	hf := exti.NewHandler(func(any) { falls++ }, nil)
	hb := exti.NewHandler(func(any) { both++ }, nil)
	r.subscribe(t, hf, 1, exti.Falling)
	r.subscribe(t, hb, 2, exti.Both)

	r.periph.Drive(portA, 1, true)
	r.periph.Drive(portA, 2, true)
	_ = r.mgr.Unmask(hf)
	_ = r.mgr.Unmask(hb)

	r.periph.Drive(portA, 1, false)
	r.periph.Drive(portA, 2, false)
	_ = r.mgr.Unmask(hb)
	r.periph.Drive(portA, 2, true)

	if falls != 1 {
		t.Errorf("Expected 1 falling edge, got %d", falls)
	}
	if both != 2 {
		t.Errorf("Expected 2 edges on both-trigger line, got %d", both)
	}
}

func TestGroupedDispatchCompleteness(t *testing.T) {
	r := newRig(t)

	var order []exti.Line
	var handlers []*exti.Handler
	for _, line := range []exti.Line{9, 5, 7} {
		h := exti.NewHandler(func(c any) { order = append(order, c.(exti.Line)) }, line)
		r.subscribe(t, h, line, exti.Rising)
		_ = r.mgr.Unmask(h)
		handlers = append(handlers, h)
	}

	state := r.table.DisableInterrupts()
	r.pulse(5)
	r.pulse(7)
	r.pulse(9)
	r.table.RestoreInterrupts(state)

	want := []exti.Line{9, 5, 7}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected registration order %v, got %v", want, order)
		}
	}
	if n := r.cpu.Taken(23); n != 1 {
		t.Errorf("Expected a single ISR entry, got %d", n)
	}
	for _, h := range handlers {
		if !r.mgr.Masked(h) {
			t.Errorf("Line %d should be masked after service", h.Pin().L)
		}
	}
}

func TestGroupedLineRaisedDuringService(t *testing.T) {
	r := newRig(t)

	var order []exti.Line
	h5 := exti.NewHandler(func(any) {
		order = append(order, 5)
		r.pulse(6)
	}, nil)
	h6 := exti.NewHandler(func(any) { order = append(order, 6) }, nil)
	r.subscribe(t, h5, 5, exti.Rising)
	r.subscribe(t, h6, 6, exti.Rising)
	_ = r.mgr.Unmask(h5)
	_ = r.mgr.Unmask(h6)

	r.pulse(5)

	if len(order) != 2 || order[0] != 5 || order[1] != 6 {
		t.Errorf("Expected [5 6], got %v", order)
	}
	if n := r.cpu.Taken(23); n != 2 {
		t.Errorf("Expected the late line to re-enter the vector, got %d entries", n)
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	r := newRig(t)

	calls := map[exti.Line]int{}
	var h10, h11 *exti.Handler
	h10 = exti.NewHandler(func(any) {
		calls[10]++
		if err := h10.Close(); err != nil {
			t.Errorf("Close from callback failed: %v", err)
		}
	}, nil)
	h11 = exti.NewHandler(func(any) { calls[11]++ }, nil)
	r.subscribe(t, h10, 10, exti.Rising)
	r.subscribe(t, h11, 11, exti.Rising)
	_ = r.mgr.Unmask(h10)
	_ = r.mgr.Unmask(h11)

	state := r.table.DisableInterrupts()
	r.pulse(10)
	r.pulse(11)
	r.table.RestoreInterrupts(state)

	if calls[10] != 1 || calls[11] != 1 {
		t.Errorf("Both handlers must run once, got %v", calls)
	}
	if h10.Subscribed() {
		t.Error("Handler should be unlinked")
	}

	_ = r.mgr.Unmask(h11)
	r.pulse(10)
	r.pulse(11)
	if calls[10] != 1 {
		t.Errorf("Unsubscribed handler must never run again, got %d", calls[10])
	}
	if calls[11] != 2 {
		t.Errorf("Remaining handler must still be served, got %d", calls[11])
	}
}

func TestUnsubscribeDropsPendingEvent(t *testing.T) {
	r := newRig(t)

	calls := 0
	h := exti.NewHandler(func(any) { calls++ }, nil)
	r.subscribe(t, h, 3, exti.Rising)
	_ = r.mgr.Unmask(h)

	state := r.table.DisableInterrupts()
	r.pulse(3)
	if err := r.mgr.Unsubscribe(h); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	r.table.RestoreInterrupts(state)

	if calls != 0 {
		t.Errorf("Pending event must be dropped on unsubscribe, got %d calls", calls)
	}
	if len(r.aborts) != 0 {
		t.Errorf("Unexpected abort: %v", r.aborts)
	}
}

func TestSubscribeErrors(t *testing.T) {
	r := newRig(t)

	a := exti.NewHandler(nil, nil)
	b := exti.NewHandler(nil, nil)
	r.subscribe(t, a, 3, exti.Rising)

	if err := r.mgr.Subscribe(b, exti.PinID{P: 1, L: 3}, exti.Rising); !errors.Is(err, core.Busy) {
		t.Errorf("Expected busy for a taken line, got %v", err)
	}
	if err := r.mgr.Subscribe(a, exti.PinID{P: portA, L: 4}, exti.Rising); !errors.Is(err, core.Already) {
		t.Errorf("Expected already for a linked handler, got %v", err)
	}
	if err := r.mgr.Subscribe(b, exti.PinID{P: portA, L: 20}, exti.Rising); !errors.Is(err, core.Range) {
		t.Errorf("Expected range for an unmapped line, got %v", err)
	}
	if b.Subscribed() {
		t.Error("Failed subscribe must leave the handler unlinked")
	}

	r.periph.SetEdgeOnly(true)
	if err := r.mgr.Subscribe(b, exti.PinID{P: portA, L: 4}, exti.High); !errors.Is(err, core.NotSup) {
		t.Errorf("Expected notsup for a level trigger, got %v", err)
	}
	if b.Subscribed() {
		t.Error("Handler must stay unlinked after a rejected trigger")
	}
	r.subscribe(t, b, 4, exti.Rising)
}

func TestCloseIsIdempotent(t *testing.T) {
	r := newRig(t)

	var zero exti.Handler
	if err := zero.Close(); err != nil {
		t.Errorf("Closing an unsubscribed handler must succeed, got %v", err)
	}

	h := exti.NewHandler(nil, nil)
	r.subscribe(t, h, 12, exti.Falling)
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Second Close must be a no-op, got %v", err)
	}
	if err := r.mgr.Unsubscribe(h); !errors.Is(err, core.NoEnt) {
		t.Errorf("Expected noent, got %v", err)
	}
	if err := r.mgr.Unmask(h); !errors.Is(err, core.NoEnt) {
		t.Errorf("Expected noent from Unmask, got %v", err)
	}

	// The line is free again.
	r.subscribe(t, exti.NewHandler(nil, nil), 12, exti.Rising)
}

func TestZeroValueHandler(t *testing.T) {
	r := newRig(t)

	var h exti.Handler
	r.subscribe(t, &h, 4, exti.Rising)
	_ = r.mgr.Unmask(&h)
	r.pulse(4)

	if len(r.aborts) != 0 {
		t.Errorf("Zero-value handler must be served silently, got %v", r.aborts)
	}
}

func TestMaskStopsDelivery(t *testing.T) {
	r := newRig(t)

	calls := 0
	h := exti.NewHandler(func(any) { calls++ }, nil)
	r.subscribe(t, h, 13, exti.Rising)
	_ = r.mgr.Unmask(h)
	if err := r.mgr.Mask(h); err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	r.pulse(13)
	if calls != 0 {
		t.Errorf("Masked line delivered %d events", calls)
	}
}

func TestLevelTriggerRepeatsWhileHeld(t *testing.T) {
	r := newRig(t)

	calls := 0
	h := exti.NewHandler(func(any) { calls++ }, nil)
	r.subscribe(t, h, 1, exti.High)

	r.periph.Drive(portA, 1, true)
	if calls != 0 {
		t.Fatal("Level must not fire while masked")
	}

	_ = r.mgr.Unmask(h)
	if calls != 1 {
		t.Fatalf("Held level must fire on unmask, got %d", calls)
	}
	_ = r.mgr.Unmask(h)
	if calls != 2 {
		t.Errorf("Held level must fire again on re-unmask, got %d", calls)
	}

	r.periph.Drive(portA, 1, false)
	_ = r.mgr.Unmask(h)
	if calls != 2 {
		t.Errorf("Released level must not fire, got %d", calls)
	}
}

type userButton struct{}

func (userButton) Port() exti.Port { return 2 }
func (userButton) Line() exti.Line { return 14 }

func TestGenericSubscribe(t *testing.T) {
	r := newRig(t)

	calls := 0
	h := exti.NewHandler(func(any) { calls++ }, nil)
	if err := exti.Subscribe[userButton](r.mgr, h, exti.Falling); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if h.Pin() != (exti.PinID{P: 2, L: 14}) {
		t.Errorf("Unexpected pin %v", h.Pin())
	}
	_ = r.mgr.Unmask(h)

	// Same line on another port is not routed.
	r.periph.Drive(portA, 14, true)
	r.periph.Drive(portA, 14, false)
	if calls != 0 {
		t.Errorf("Unrouted port fired %d times", calls)
	}

	r.periph.Drive(2, 14, true)
	r.periph.Drive(2, 14, false)
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestUnownedLinesAbort(t *testing.T) {
	r := newRig(t)

	// Bypass the manager to enable lines nobody owns.
	_ = r.periph.Configure(2, portA, exti.Rising)
	_ = r.periph.Configure(12, portA, exti.Rising)
	r.periph.SetIMR(r.periph.IMR() | 1<<2 | 1<<12)

	r.pulse(2)
	r.pulse(12)

	if len(r.aborts) != 2 {
		t.Fatalf("Expected 2 aborts, got %v", r.aborts)
	}
	if r.aborts[0] != "exti: un-owned direct line fired on irq 8" {
		t.Errorf("Unexpected direct abort %q", r.aborts[0])
	}
	if r.aborts[1] != "exti: un-owned lines 0x1000 fired on irq 40" {
		t.Errorf("Unexpected grouped abort %q", r.aborts[1])
	}
}

func TestTraceRecordsDispatch(t *testing.T) {
	r := newRig(t)

	h := exti.NewHandler(nil, nil)
	r.subscribe(t, h, 0, exti.Rising)
	_ = r.mgr.Unmask(h)
	r.pulse(0)

	events := r.trace.Events()
	if len(events) != 1 || events[0].Kind != core.EvtEXTIDirect || events[0].Source != 0 {
		t.Errorf("Unexpected trace %v", events)
	}
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name   string
		layout exti.Layout
		want   error
	}{
		{"stm32f4", exti.STM32F4(), nil},
		{"overlap", exti.Layout{
			Direct: []exti.Direct{{Line: 5, IRQ: 1}},
			Groups: []exti.Group{{IRQ: 2, First: 5, Last: 9}},
		}, core.Inval},
		{"reversed", exti.Layout{Groups: []exti.Group{{IRQ: 2, First: 9, Last: 5}}}, core.Inval},
		{"too wide", exti.Layout{Direct: []exti.Direct{{Line: 40, IRQ: 1}}}, core.Range},
		{"shared direct vector", exti.Layout{
			Direct: []exti.Direct{{Line: 0, IRQ: 6}, {Line: 1, IRQ: 6}},
		}, core.Inval},
		{"direct and group share vector", exti.Layout{
			Direct: []exti.Direct{{Line: 0, IRQ: 23}},
			Groups: []exti.Group{{IRQ: 23, First: 5, Last: 9}},
		}, core.Inval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.layout.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := exti.STM32F4().Lines(); got != 0xffff {
		t.Errorf("Expected lines 0xffff, got %#x", got)
	}
}

func TestNewRejectsVectorOutsideTable(t *testing.T) {
	layout := exti.Layout{Direct: []exti.Direct{{Line: 0, IRQ: 6}, {Line: 1, IRQ: 100}}}

	cpu := sim.NewCPU(16)
	table := irq.Init(cpu, 16)
	cpu.Attach(table.ISR)

	m, err := exti.New(table, sim.NewEXTI(cpu, exti.Layout{}), layout)
	if !errors.Is(err, core.Range) {
		t.Fatalf("Expected range, got %v", err)
	}
	if m != nil {
		t.Error("Expected no manager on failure")
	}
	if table.Subscribed(6) {
		t.Error("Vector 6 must not stay subscribed after a failed New")
	}
	if cpu.Enabled(6) {
		t.Error("Vector 6 must not be unmasked after a failed New")
	}
}

func TestMaskedWithoutSubscription(t *testing.T) {
	r := newRig(t)

	owner := exti.NewHandler(nil, nil)
	r.subscribe(t, owner, 0, exti.Rising)
	_ = r.mgr.Unmask(owner)

	stranger := exti.NewHandler(nil, nil)
	if !r.mgr.Masked(stranger) {
		t.Error("An unsubscribed handler must report masked")
	}
	if r.mgr.Masked(owner) {
		t.Error("Expected the owner's line to be unmasked")
	}

	_ = owner.Close()
	if !r.mgr.Masked(owner) {
		t.Error("Expected masked after unsubscribe")
	}
}

func TestParseTrigger(t *testing.T) {
	for _, trig := range []exti.Trigger{exti.Rising, exti.Falling, exti.Both, exti.High, exti.Low} {
		got, err := exti.ParseTrigger(trig.String())
		if err != nil || got != trig {
			t.Errorf("ParseTrigger(%q) = %v, %v", trig.String(), got, err)
		}
	}
	if _, err := exti.ParseTrigger("sideways"); !errors.Is(err, core.Inval) {
		t.Errorf("Expected inval, got %v", err)
	}
}
