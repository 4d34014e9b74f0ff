package sim

import (
	"testing"

	"thecore/core/irq"
)

func TestCPUResetState(t *testing.T) {
	cpu := NewCPU(8)
	if cpu.InterruptsEnabled() {
		t.Error("PRIMASK must be set after reset")
	}
	for n := irq.Num(0); n < 8; n++ {
		if cpu.Enabled(n) || cpu.Pending(n) {
			t.Errorf("Vector %d must start masked and idle", n)
		}
	}
	if cpu.Active() != NoIRQ {
		t.Errorf("Expected no active vector, got %d", cpu.Active())
	}
}

func TestCPULowestVectorFirst(t *testing.T) {
	cpu := NewCPU(8)
	var order []irq.Num
	cpu.Attach(func() { order = append(order, cpu.Active()) })

	for _, n := range []irq.Num{6, 2, 4} {
		cpu.Unmask(n)
		cpu.Raise(n)
	}
	if len(order) != 0 {
		t.Fatalf("Nothing may run with PRIMASK set, got %v", order)
	}

	cpu.EnableInterrupts()

	want := []irq.Num{2, 4, 6}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, order)
			break
		}
	}
}

func TestCPUNoNesting(t *testing.T) {
	cpu := NewCPU(4)
	var order []irq.Num
	cpu.Attach(func() {
		n := cpu.Active()
		order = append(order, n)
		if n == 3 {
			cpu.Raise(0)
			if len(order) != 1 {
				t.Error("Active handler must not be preempted")
			}
		}
	})
	cpu.EnableInterrupts()
	cpu.Unmask(0)
	cpu.Unmask(3)

	cpu.Raise(3)

	if len(order) != 2 || order[0] != 3 || order[1] != 0 {
		t.Errorf("Expected [3 0], got %v", order)
	}
	if cpu.Taken(3) != 1 || cpu.Taken(0) != 1 {
		t.Errorf("Unexpected entry counts %d/%d", cpu.Taken(3), cpu.Taken(0))
	}
}

func TestCPUConnectedSourceRelatches(t *testing.T) {
	cpu := NewCPU(4)
	level := true
	cpu.Connect(1, func() bool { return level })

	cpu.Clear(1)
	if !cpu.Pending(1) {
		t.Error("Asserted source must re-latch on clear")
	}

	level = false
	cpu.Clear(1)
	if cpu.Pending(1) {
		t.Error("Deasserted source must allow clear")
	}

	calls := 0
	cpu.Attach(func() { calls++ })
	cpu.EnableInterrupts()
	level = true
	cpu.Unmask(1)
	if calls != 1 {
		t.Errorf("Expected unmask of an asserted source to dispatch, got %d", calls)
	}
}

func TestCPUPanicPopsActive(t *testing.T) {
	cpu := NewCPU(2)
	cpu.Attach(func() { panic("boom") })
	cpu.EnableInterrupts()
	cpu.Unmask(0)

	func() {
		defer func() { _ = recover() }()
		cpu.Raise(0)
	}()

	if cpu.Active() != NoIRQ {
		t.Errorf("Expected active stack to unwind, got %d", cpu.Active())
	}
}

func TestCPUIgnoresOutOfRange(t *testing.T) {
	cpu := NewCPU(2)
	cpu.Raise(5)
	cpu.Unmask(-1)
	if cpu.Pending(5) || cpu.Enabled(-1) || cpu.Taken(5) != 0 {
		t.Error("Out-of-range vectors must be ignored")
	}
}
