//go:build tinygo && stm32f4

// Package stm32f4 binds the EXTI manager to the STM32F4 external interrupt
// controller.
package stm32f4

import (
	"device/stm32"
	"fmt"
	"runtime/volatile"

	"thecore/core"
	"thecore/core/exti"
)

// EXTI implements exti.Peripheral on the EXTI and SYSCFG blocks. The
// hardware only detects edges.
type EXTI struct{}

// NewEXTI enables the SYSCFG clock needed for port routing.
func NewEXTI() EXTI {
	stm32.RCC.APB2ENR.SetBits(stm32.RCC_APB2ENR_SYSCFGEN)
	return EXTI{}
}

func exticr(line exti.Line) *volatile.Register32 {
	switch line / 4 {
	case 0:
		return &stm32.SYSCFG.EXTICR1
	case 1:
		return &stm32.SYSCFG.EXTICR2
	case 2:
		return &stm32.SYSCFG.EXTICR3
	default:
		return &stm32.SYSCFG.EXTICR4
	}
}

// Configure routes port onto line and selects the edges.
func (EXTI) Configure(line exti.Line, port exti.Port, trigger exti.Trigger) error {
	if line > 15 {
		return fmt.Errorf("stm32f4: line %d has no gpio route: %w", line, core.Range)
	}

	bit := uint32(1) << line
	switch trigger {
	case exti.Rising:
		stm32.EXTI.RTSR.SetBits(bit)
		stm32.EXTI.FTSR.ClearBits(bit)
	case exti.Falling:
		stm32.EXTI.RTSR.ClearBits(bit)
		stm32.EXTI.FTSR.SetBits(bit)
	case exti.Both:
		stm32.EXTI.RTSR.SetBits(bit)
		stm32.EXTI.FTSR.SetBits(bit)
	default:
		return fmt.Errorf("stm32f4: %s trigger: %w", trigger, core.NotSup)
	}

	shift := (uint32(line) % 4) * 4
	cr := exticr(line)
	cr.ReplaceBits(uint32(port), 0xf, uint8(shift))
	return nil
}

// Disable drops both edge selections for line.
func (EXTI) Disable(line exti.Line) {
	bit := uint32(1) << line
	stm32.EXTI.RTSR.ClearBits(bit)
	stm32.EXTI.FTSR.ClearBits(bit)
}

func (EXTI) IMR() uint32 {
	return stm32.EXTI.IMR.Get()
}

func (EXTI) SetIMR(mask uint32) {
	stm32.EXTI.IMR.Set(mask)
}

func (EXTI) PR() uint32 {
	return stm32.EXTI.PR.Get()
}

// ClearPR acknowledges the lines in mask. PR is write-one-to-clear.
func (EXTI) ClearPR(mask uint32) {
	stm32.EXTI.PR.Set(mask)
}

var _ exti.Peripheral = EXTI{}
