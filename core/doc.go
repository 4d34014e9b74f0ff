// Package core holds the vocabulary shared by the HAL layers: the errno
// style status codes, the fatal abort path and the interrupt trace ring.
//
// The interesting parts live in the subpackages:
//
//	core/list  allocation-free intrusive list used by interrupt registries
//	core/irq   vector table with subscribe/unsubscribe/mask/unmask
//	core/exti  external interrupt line manager built on core/irq
//	core/bus   blocking adapter over event-driven bus drivers
package core
