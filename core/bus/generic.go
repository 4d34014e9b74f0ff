package bus

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"thecore/core"
)

// State flags
const (
	stInited uint32 = 1 << iota
	stAsync         // Async transfer in progress or not cleaned up yet
	stLocked        // Lock held
	stServed        // Last event of the current transfer delivered
	stError         // Error event seen during the current transfer
)

// Generic wraps one Platform. All methods except Init, Deinit and Lock
// must be called with the lock held.
type Generic struct {
	plat Platform

	mu       sync.Mutex
	sem      chan struct{}
	state    atomic.Uint32
	cleaned  atomic.Bool
	cb       atomic.Pointer[EventHandler]
	sent     atomic.Int64
	received atomic.Int64

	log   *logrus.Entry
	trace *core.Trace
}

// Option configures a Generic bus.
type Option func(*Generic)

// WithLogger replaces the component logger.
func WithLogger(log *logrus.Entry) Option {
	return func(g *Generic) {
		g.log = log
	}
}

// WithTrace records transfer starts and platform events into tr.
func WithTrace(tr *core.Trace) Option {
	return func(g *Generic) {
		g.trace = tr
	}
}

// NewGeneric wraps plat. The platform is not touched until Init.
func NewGeneric(plat Platform, opts ...Option) *Generic {
	g := &Generic{
		plat: plat,
		sem:  make(chan struct{}, 1),
		log:  core.Logger("bus"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Platform returns the wrapped driver.
func (g *Generic) Platform() Platform {
	return g.plat
}

// Init initializes the platform once. Later calls succeed without touching
// the platform. The platform's error is returned unchanged.
func (g *Generic) Init() error {
	if g.state.Load()&stInited != 0 {
		return nil
	}

	g.plat.SetHandler(g.handle)
	if err := g.plat.Init(); err != nil {
		g.log.WithError(err).Warn("platform init failed")
		return err
	}
	g.state.Or(stInited)
	g.log.Debug("bus initialized")
	return nil
}

// Deinit detaches from the platform. It fails with core.Perm if the bus
// was never initialized.
func (g *Generic) Deinit() error {
	if g.state.Load()&stInited == 0 {
		return wrap("deinit", core.Perm)
	}
	g.plat.ResetHandler()
	g.cleanup()
	g.state.Store(0)
	return nil
}

// Lock takes exclusive ownership of the bus. If an asynchronous transfer
// is still running, Lock also waits for it to finish. Lock is not
// re-entrant.
func (g *Generic) Lock() {
	g.mu.Lock()
	g.state.Or(stLocked)
	if g.state.Load()&stAsync != 0 {
		<-g.sem
	}
}

// Unlock releases the bus. Buffers and the async handler are dropped once
// both Unlock and the last event of the transfer have happened.
func (g *Generic) Unlock() {
	g.mustLocked()
	g.state.And(^stLocked)

	st := g.state.Load()
	if st&stAsync != 0 {
		if st&stServed != 0 && g.cleaned.CompareAndSwap(false, true) {
			g.cleanup()
		}
	} else {
		g.cleanup()
	}

	g.mu.Unlock()
}

// SetBuffers selects the buffers of the next transfer. A nil buffer leaves
// that direction unused; when both are given they must be the same length.
func (g *Generic) SetBuffers(tx, rx []byte) error {
	g.mustLocked()

	if tx == nil && rx == nil {
		return wrap("set buffers", core.Inval)
	}
	if tx != nil && rx != nil && len(tx) != len(rx) {
		return wrap("set buffers: length mismatch", core.Inval)
	}
	if g.busy() {
		return wrap("set buffers", core.Busy)
	}

	g.plat.ResetBuffers()
	g.plat.SetTx(tx)
	g.plat.SetRx(rx)
	return nil
}

// SetFill makes the next transfer send size copies of fill and ignore
// received data.
func (g *Generic) SetFill(size int, fill byte) error {
	g.mustLocked()

	if g.busy() {
		return wrap("set fill", core.Busy)
	}

	g.plat.ResetBuffers()
	g.plat.SetTxFill(size, fill)
	g.plat.SetRx(nil)
	return nil
}

// Xfer runs a transfer and blocks until its last event. It returns the
// byte counts the platform reported. An error event during the transfer
// yields core.IO with the partial counts; a platform that fails to start
// yields its own error and zero counts.
func (g *Generic) Xfer() (sent, received int, err error) {
	g.mustLocked()

	if g.state.Load()&stInited == 0 {
		return 0, 0, wrap("xfer", core.Perm)
	}
	if g.busy() {
		return 0, 0, wrap("xfer", core.Busy)
	}

	g.state.And(^(stAsync | stServed | stError))
	g.drain()
	g.sent.Store(0)
	g.received.Store(0)

	g.trace.Record(core.EvtBusXferStart, 0, 0, 0)
	if err := g.plat.DoXfer(); err != nil {
		g.state.Or(stServed)
		return 0, 0, err
	}

	<-g.sem

	if g.state.Load()&stError != 0 {
		err = core.IO
	}
	return int(g.sent.Load()), int(g.received.Load()), err
}

// XferAsync installs h as the event handler and, unless typ is Deferred,
// starts the transfer. h runs in interrupt context. The handler and the
// buffers stay in place until the transfer completes and the bus is
// unlocked.
func (g *Generic) XferAsync(h EventHandler, typ AsyncType) error {
	g.mustLocked()

	if g.busy() {
		return wrap("xfer async", core.Busy)
	}

	g.cb.Store(&h)
	if typ == Deferred {
		return nil
	}
	return g.TriggerXfer()
}

// TriggerXfer starts a transfer prepared with XferAsync.
func (g *Generic) TriggerXfer() error {
	g.mustLocked()

	if g.state.Load()&stInited == 0 {
		return wrap("trigger xfer", core.Perm)
	}
	if g.busy() {
		return wrap("trigger xfer", core.Busy)
	}

	// Served is cleared before the start: a platform may deliver the
	// whole transfer from inside DoXfer.
	g.state.And(^(stServed | stError))
	g.state.Or(stAsync)
	g.cleaned.Store(false)
	g.drain()

	g.trace.Record(core.EvtBusXferStart, 1, 0, 0)
	if err := g.plat.DoXfer(); err != nil {
		g.state.Or(stServed)
		g.state.And(^stAsync)
		return err
	}
	return nil
}

// handle is installed as the platform event sink.
func (g *Generic) handle(ch Channel, ev Event, total int) {
	last := ch == Meta && ev == TC

	if ev == Err {
		g.state.Or(stError)
	}
	if last {
		g.state.Or(stServed)
	}
	g.trace.Record(core.EvtBusEvent, int32(ch), uint32(ev), uint32(total))

	if g.state.Load()&stAsync != 0 {
		if cb := g.cb.Load(); cb != nil {
			(*cb)(ch, ev, total)
		}

		st := g.state.Load()
		last = st&stServed != 0
		if last && st&stLocked == 0 && g.cleaned.CompareAndSwap(false, true) {
			g.cleanup()
		}
	} else {
		switch ch {
		case TX:
			g.sent.Store(int64(total))
		case RX:
			g.received.Store(int64(total))
		}
	}

	if last {
		select {
		case g.sem <- struct{}{}:
		default:
		}
	}
}

func (g *Generic) busy() bool {
	st := g.state.Load()
	return st&stAsync != 0 && st&stServed == 0
}

// drain consumes a completion left over from an earlier transfer.
func (g *Generic) drain() {
	select {
	case <-g.sem:
	default:
	}
}

func (g *Generic) cleanup() {
	g.plat.ResetBuffers()
	g.cb.Store(nil)
	g.state.And(^stAsync)
}

func (g *Generic) mustLocked() {
	if g.state.Load()&stLocked == 0 {
		panic("bus: operation requires the bus lock")
	}
}
