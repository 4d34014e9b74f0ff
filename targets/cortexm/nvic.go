//go:build tinygo && cortexm

// Package cortexm drives the interrupt core on ARMv7-M parts through the
// NVIC.
package cortexm

import (
	"device/arm"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"thecore/core"
	"thecore/core/irq"
)

var (
	icpr = (*[8]volatile.Register32)(unsafe.Pointer(uintptr(0xE000E280)))
	icsr = (*volatile.Register32)(unsafe.Pointer(uintptr(0xE000ED04)))
)

// VECTACTIVE holds the exception number; external interrupts start at 16.
const (
	icsrVectActive = 0x1FF
	firstExternal  = 16
)

// NVIC implements irq.Controller on the Cortex-M nested vectored
// interrupt controller.
type NVIC struct{}

// Mask disables vector n.
func (NVIC) Mask(n irq.Num) {
	arm.DisableIRQ(uint32(n))
}

// Unmask enables vector n.
func (NVIC) Unmask(n irq.Num) {
	arm.EnableIRQ(uint32(n))
}

// Clear drops a pending request for vector n.
func (NVIC) Clear(n irq.Num) {
	icpr[n>>5].Set(1 << (uint32(n) & 0x1F))
}

func (NVIC) DisableInterrupts() irq.State {
	return irq.State(interrupt.Disable())
}

func (NVIC) RestoreInterrupts(state irq.State) {
	interrupt.Restore(interrupt.State(state))
}

func (NVIC) EnableInterrupts() {
	arm.Asm("cpsie i")
}

// Active returns the external vector being serviced. It is negative in
// thread mode and for system exceptions.
func (NVIC) Active() irq.Num {
	return irq.Num(icsr.Get()&icsrVectActive) - firstExternal
}

// Halt stops the core with interrupts disabled. It is installed as the
// abort hook by Setup.
func Halt(reason string) {
	interrupt.Disable()
	for {
		arm.Asm("wfi")
	}
}

// Setup installs Halt as the abort hook and initializes the vector table
// for count external interrupts.
func Setup(count int, opts ...irq.Option) *irq.Table {
	core.SetAbortHook(Halt)
	return irq.Init(NVIC{}, count, opts...)
}

var _ irq.Controller = NVIC{}
