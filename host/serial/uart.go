package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"thecore/core"
	"thecore/core/bus"
)

// UART is a bus.Platform over a host serial port. Each transfer writes the
// tx buffer, then reads until the rx buffer is full or the port's read
// timeout expires. The transfer runs on its own goroutine.
type UART struct {
	port Port
	log  *logrus.Entry

	mu       sync.Mutex
	handler  bus.EventHandler
	tx       []byte
	rx       []byte
	fill     byte
	fillSize int
	inited   bool
}

// NewUART wraps an open port.
func NewUART(port Port) *UART {
	return &UART{
		port: port,
		log:  core.Logger("uart"),
	}
}

// Init implements bus.Platform. Pending data on the port is discarded.
func (u *UART) Init() error {
	if u.port == nil {
		return fmt.Errorf("uart: no port: %w", core.NoDev)
	}
	if err := u.port.Flush(); err != nil {
		return fmt.Errorf("uart flush: %w", err)
	}
	u.mu.Lock()
	u.inited = true
	u.mu.Unlock()
	return nil
}

// SetHandler implements bus.Platform.
func (u *UART) SetHandler(h bus.EventHandler) {
	u.mu.Lock()
	u.handler = h
	u.mu.Unlock()
}

// ResetHandler implements bus.Platform.
func (u *UART) ResetHandler() {
	u.SetHandler(nil)
}

// ResetBuffers implements bus.Platform.
func (u *UART) ResetBuffers() {
	u.mu.Lock()
	u.tx, u.rx = nil, nil
	u.fillSize = 0
	u.mu.Unlock()
}

// SetTx implements bus.Platform.
func (u *UART) SetTx(tx []byte) {
	u.mu.Lock()
	u.tx = tx
	u.mu.Unlock()
}

// SetTxFill implements bus.Platform.
func (u *UART) SetTxFill(size int, fill byte) {
	u.mu.Lock()
	u.tx = nil
	u.fillSize = size
	u.fill = fill
	u.mu.Unlock()
}

// SetRx implements bus.Platform.
func (u *UART) SetRx(rx []byte) {
	u.mu.Lock()
	u.rx = rx
	u.mu.Unlock()
}

// DoXfer implements bus.Platform.
func (u *UART) DoXfer() error {
	u.mu.Lock()
	if !u.inited || u.handler == nil {
		u.mu.Unlock()
		return fmt.Errorf("uart: %w", core.NoDev)
	}
	tx, rx, h := u.tx, u.rx, u.handler
	if tx == nil && u.fillSize > 0 {
		tx = bytes.Repeat([]byte{u.fill}, u.fillSize)
	}
	u.mu.Unlock()

	go u.run(tx, rx, h)
	return nil
}

func (u *UART) run(tx, rx []byte, h bus.EventHandler) {
	defer h(bus.Meta, bus.TC, 0)

	if tx != nil {
		n, err := u.port.Write(tx)
		if err != nil || n < len(tx) {
			u.log.WithError(err).WithField("sent", n).Debug("short write")
			h(bus.TX, bus.Err, n)
			return
		}
		h(bus.TX, bus.TC, n)
	}

	if rx != nil {
		n, err := readFull(u.port, rx)
		if err != nil {
			u.log.WithError(err).WithField("received", n).Debug("short read")
			h(bus.RX, bus.Err, n)
			return
		}
		h(bus.RX, bus.TC, n)
	}
}

// readFull reads until buf is full. A read returning no data means the
// port timed out.
func readFull(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, errReadTimeout
		}
	}
	return n, nil
}

var errReadTimeout = errors.New("read timeout")

var _ bus.Platform = (*UART)(nil)
