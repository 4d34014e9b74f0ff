// Package bus turns an event-driven bus driver into a synchronous one.
//
// A Platform starts a transfer with DoXfer and reports progress through
// events, usually from interrupt context. Generic serializes users with a
// lock, programs the buffers and either blocks until the last event of the
// transfer arrives (Xfer) or forwards the events to a user handler
// (XferAsync). Pipe builds the byte-count read/write API on top of it.
package bus

import (
	"fmt"
	"strconv"
)

// Channel tells which part of the transfer an event belongs to.
type Channel uint8

// Bus channels
const (
	RX   Channel = iota // Receive channel
	TX                  // Transmit channel
	Meta                // Transfer as a whole
)

func (c Channel) String() string {
	switch c {
	case RX:
		return "rx"
	case TX:
		return "tx"
	case Meta:
		return "meta"
	}
	return "channel(" + strconv.Itoa(int(c)) + ")"
}

// Event is the kind of a bus event.
type Event uint8

// Bus events
const (
	HT  Event = iota // Half transfer
	TC               // Transfer complete
	Err              // Error
)

func (e Event) String() string {
	switch e {
	case HT:
		return "ht"
	case TC:
		return "tc"
	case Err:
		return "err"
	}
	return "event(" + strconv.Itoa(int(e)) + ")"
}

// AsyncType selects when an asynchronous transfer starts.
type AsyncType uint8

const (
	// Immediate starts the transfer right away.
	Immediate AsyncType = iota
	// Deferred only records the handler; TriggerXfer starts the transfer.
	Deferred
)

// EventHandler receives bus events. total is the number of bytes moved on
// the channel so far. Meta/TC is always the last event of a transfer.
type EventHandler func(ch Channel, ev Event, total int)

// Platform is the contract of a low-level bus driver (SPI, I2C, UART...).
type Platform interface {
	// Init brings the peripheral up. Called once by Generic.Init.
	Init() error
	// SetHandler installs the event sink. ResetHandler removes it.
	SetHandler(h EventHandler)
	ResetHandler()

	// ResetBuffers forgets any buffer set for the next transfer.
	ResetBuffers()
	// SetTx selects the bytes to send.
	SetTx(tx []byte)
	// SetTxFill makes the next transfer send size copies of fill.
	SetTxFill(size int, fill byte)
	// SetRx selects where received bytes go.
	SetRx(rx []byte)

	// DoXfer starts a transfer. On success the platform must eventually
	// deliver a Meta/TC event; on error no events are delivered.
	DoXfer() error
}

func wrap(op string, err error) error {
	return fmt.Errorf("bus %s: %w", op, err)
}
