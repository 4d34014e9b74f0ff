package sim

import (
	"bytes"
	"fmt"
	"sync"

	"thecore/core"
	"thecore/core/bus"
)

// Bus is a loopback bus.Platform. Transmitted bytes are queued on a Wire
// and handed back by later receive transfers; a full-duplex transfer
// echoes tx into rx. Transfers complete on their own goroutine, as a DMA
// engine would, unless the bus is synchronous.
type Bus struct {
	mu      sync.Mutex
	wire    *Wire
	handler bus.EventHandler

	tx       []byte
	rx       []byte
	fill     byte
	fillSize int

	inited      bool
	synchronous bool
	failStart   error
	failAfter   int

	inits int
	xfers int
	wg    sync.WaitGroup
}

// NewBus creates a loopback bus whose wire holds capacity bytes.
func NewBus(capacity int) *Bus {
	return &Bus{
		wire:      NewWire(capacity),
		failAfter: -1,
	}
}

// Wire returns the loopback wire.
func (b *Bus) Wire() *Wire {
	return b.wire
}

// SetSynchronous delivers every event from inside DoXfer.
func (b *Bus) SetSynchronous(on bool) {
	b.mu.Lock()
	b.synchronous = on
	b.mu.Unlock()
}

// FailStart makes the next DoXfer fail with err without delivering events.
func (b *Bus) FailStart(err error) {
	b.mu.Lock()
	b.failStart = err
	b.mu.Unlock()
}

// FailAfter makes the next transfer report an error event after n bytes.
func (b *Bus) FailAfter(n int) {
	b.mu.Lock()
	b.failAfter = n
	b.mu.Unlock()
}

// Inits returns how many times Init was called.
func (b *Bus) Inits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inits
}

// Xfers returns how many transfers were requested.
func (b *Bus) Xfers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.xfers
}

// Wait blocks until every transfer in flight has delivered its events.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Init implements bus.Platform.
func (b *Bus) Init() error {
	b.mu.Lock()
	b.inits++
	b.inited = true
	b.mu.Unlock()
	return nil
}

// SetHandler implements bus.Platform.
func (b *Bus) SetHandler(h bus.EventHandler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// ResetHandler implements bus.Platform.
func (b *Bus) ResetHandler() {
	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
}

// ResetBuffers implements bus.Platform.
func (b *Bus) ResetBuffers() {
	b.mu.Lock()
	b.tx, b.rx = nil, nil
	b.fillSize = 0
	b.mu.Unlock()
}

// SetTx implements bus.Platform.
func (b *Bus) SetTx(tx []byte) {
	b.mu.Lock()
	b.tx = tx
	b.mu.Unlock()
}

// SetTxFill implements bus.Platform.
func (b *Bus) SetTxFill(size int, fill byte) {
	b.mu.Lock()
	b.tx = nil
	b.fillSize = size
	b.fill = fill
	b.mu.Unlock()
}

// SetRx implements bus.Platform.
func (b *Bus) SetRx(rx []byte) {
	b.mu.Lock()
	b.rx = rx
	b.mu.Unlock()
}

type job struct {
	tx    []byte
	rx    []byte
	limit int
	h     bus.EventHandler
}

// DoXfer implements bus.Platform.
func (b *Bus) DoXfer() error {
	b.mu.Lock()
	b.xfers++

	if err := b.failStart; err != nil {
		b.failStart = nil
		b.mu.Unlock()
		return err
	}
	if !b.inited || b.handler == nil {
		b.mu.Unlock()
		return fmt.Errorf("sim bus: %w", core.NoDev)
	}

	j := job{tx: b.tx, rx: b.rx, limit: b.failAfter, h: b.handler}
	if j.tx == nil && b.fillSize > 0 {
		j.tx = bytes.Repeat([]byte{b.fill}, b.fillSize)
	}
	b.failAfter = -1
	synchronous := b.synchronous
	b.mu.Unlock()

	if synchronous {
		b.run(j)
		return nil
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(j)
	}()
	return nil
}

func (b *Bus) run(j job) {
	clip := func(n int) (int, bool) {
		if j.limit >= 0 && j.limit < n {
			return j.limit, true
		}
		return n, false
	}

	switch {
	case j.tx != nil && j.rx != nil:
		n, failed := clip(min(len(j.tx), len(j.rx)))
		copy(j.rx, j.tx[:n])
		emit(j.h, bus.TX, n, len(j.tx), failed)
		emit(j.h, bus.RX, n, len(j.rx), failed)
	case j.tx != nil:
		want, failed := clip(len(j.tx))
		n := b.wire.Write(j.tx[:want])
		emit(j.h, bus.TX, n, len(j.tx), failed || n < len(j.tx))
	case j.rx != nil:
		want, failed := clip(len(j.rx))
		n := b.wire.Read(j.rx[:want])
		emit(j.h, bus.RX, n, len(j.rx), failed || n < len(j.rx))
	}

	j.h(bus.Meta, bus.TC, 0)
}

// emit reports the progress of one channel: a half-transfer event when
// at least half went through, then completion or error with the count.
func emit(h bus.EventHandler, ch bus.Channel, n, size int, failed bool) {
	if size >= 2 && n >= size/2 {
		h(ch, bus.HT, size/2)
	}
	if failed {
		h(ch, bus.Err, n)
		return
	}
	h(ch, bus.TC, n)
}

var _ bus.Platform = (*Bus)(nil)
