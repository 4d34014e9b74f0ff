//go:build tinygo && stm32f4

package stm32f4

import (
	"device/stm32"
	"runtime/interrupt"

	"thecore/core/exti"
	"thecore/core/irq"
	"thecore/targets/cortexm"
)

// VectorCount is the number of external interrupts on the STM32F407.
const VectorCount = 82

var table *irq.Table

func handleEXTI(interrupt.Interrupt) {
	table.ISR()
}

// Setup initializes the vector table, hooks the EXTI vectors to its
// trampoline and starts the EXTI manager with the STM32F4 layout.
func Setup(opts ...exti.Option) (*irq.Table, *exti.Manager, error) {
	table = cortexm.Setup(VectorCount)

	// interrupt.New needs constant vector numbers and a static handler.
	interrupt.New(stm32.IRQ_EXTI0, handleEXTI)
	interrupt.New(stm32.IRQ_EXTI1, handleEXTI)
	interrupt.New(stm32.IRQ_EXTI2, handleEXTI)
	interrupt.New(stm32.IRQ_EXTI3, handleEXTI)
	interrupt.New(stm32.IRQ_EXTI4, handleEXTI)
	interrupt.New(stm32.IRQ_EXTI9_5, handleEXTI)
	interrupt.New(stm32.IRQ_EXTI15_10, handleEXTI)

	mgr, err := exti.New(table, NewEXTI(), exti.STM32F4(), opts...)
	if err != nil {
		return nil, nil, err
	}
	return table, mgr, nil
}
