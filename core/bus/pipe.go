package bus

import (
	"io"
	"sync/atomic"

	"thecore/core"
)

// Pipe is a blocking byte stream over a Generic bus. Every Write and Read
// is one locked transfer; concurrent pipes over the same Generic share
// its lock.
type Pipe struct {
	bus  *Generic
	last atomic.Int32
}

// NewPipe creates a pipe over g.
func NewPipe(g *Generic) *Pipe {
	return &Pipe{bus: g}
}

// Init initializes the underlying bus and latches its result.
func (p *Pipe) Init() error {
	err := p.bus.Init()
	p.last.Store(int32(core.ToErr(err)))
	return err
}

// Write sends data. It returns the number of bytes sent, which is short if
// the transfer failed part way (LastError is core.IO), or -1 if the
// transfer could not start at all.
func (p *Pipe) Write(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	p.bus.Lock()
	sent := 0
	err := p.bus.SetBuffers(data, nil)
	if err == nil {
		sent, _, err = p.bus.Xfer()
	}
	p.bus.Unlock()

	return p.result(sent, err)
}

// Read receives into buf with the same return convention as Write.
func (p *Pipe) Read(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}

	p.bus.Lock()
	received := 0
	err := p.bus.SetBuffers(nil, buf)
	if err == nil {
		_, received, err = p.bus.Xfer()
	}
	p.bus.Unlock()

	return p.result(received, err)
}

// LastError returns the outcome of the most recent Init, Write or Read.
func (p *Pipe) LastError() core.Err {
	return core.Err(p.last.Load())
}

func (p *Pipe) result(n int, err error) int {
	e := core.ToErr(err)
	p.last.Store(int32(e))
	if e.IsError() && e != core.IO {
		return -1
	}
	return n
}

// ReadWriter exposes the pipe through the io interfaces.
func (p *Pipe) ReadWriter() io.ReadWriter {
	return pipeRW{p}
}

type pipeRW struct {
	p *Pipe
}

func (rw pipeRW) Write(b []byte) (int, error) {
	n := rw.p.Write(b)
	if n < 0 {
		return 0, rw.p.LastError()
	}
	if n < len(b) {
		if err := rw.p.LastError(); err.IsError() {
			return n, err
		}
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (rw pipeRW) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n := rw.p.Read(b)
	if n < 0 {
		return 0, rw.p.LastError()
	}
	if err := rw.p.LastError(); err.IsError() {
		return n, err
	}
	return n, nil
}
