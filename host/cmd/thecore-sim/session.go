package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/schollz/progressbar/v3"

	"thecore/board"
	"thecore/core"
	"thecore/core/bus"
	"thecore/core/exti"
	"thecore/core/irq"
	"thecore/host/sim"
)

var errQuit = errors.New("quit")

// session is one simulated board driven from the command line.
type session struct {
	out   io.Writer
	board *board.Board

	cpu    *sim.CPU
	table  *irq.Table
	periph *sim.EXTI
	mgr    *exti.Manager
	trace  *core.Trace

	pipe     *bus.Pipe
	capacity int

	handlers map[exti.PinID]*exti.Handler
	fired    map[exti.PinID]int
	aborted  []string
}

func newSession(b *board.Board, plat bus.Platform, capacity int, out io.Writer) (*session, error) {
	s := &session{
		out:      out,
		board:    b,
		trace:    &core.Trace{},
		capacity: capacity,
		handlers: make(map[exti.PinID]*exti.Handler),
		fired:    make(map[exti.PinID]int),
	}

	s.cpu = sim.NewCPU(b.IRQCount)
	s.table = irq.Init(s.cpu, b.IRQCount, irq.WithTrace(s.trace), irq.WithAbort(s.abort))
	s.cpu.Attach(s.table.ISR)

	s.periph = sim.NewEXTI(s.cpu, b.EXTI)
	s.periph.SetEdgeOnly(b.EdgeOnly)

	mgr, err := exti.New(s.table, s.periph, b.EXTI, exti.WithTrace(s.trace), exti.WithAbort(s.abort))
	if err != nil {
		return nil, err
	}
	s.mgr = mgr

	s.pipe = bus.NewPipe(bus.NewGeneric(plat, bus.WithTrace(s.trace)))
	if err := s.pipe.Init(); err != nil {
		return nil, fmt.Errorf("bus init: %w", err)
	}
	return s, nil
}

func (s *session) abort(reason string) {
	s.aborted = append(s.aborted, reason)
	fmt.Fprintf(s.out, "ABORT: %s\n", reason)
	s.trace.Dump(core.Logger("sim"))
}

// exec runs one command line.
func (s *session) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		s.help()
		return nil
	case "sub":
		return s.subscribe(args)
	case "unsub":
		return s.withHandler(args, func(h *exti.Handler) error { return h.Close() })
	case "mask":
		return s.withHandler(args, s.mgr.Mask)
	case "unmask":
		return s.withHandler(args, s.mgr.Unmask)
	case "drive":
		return s.drive(args)
	case "write":
		return s.write(args)
	case "read":
		return s.read(args)
	case "bench":
		return s.bench(args)
	case "trace":
		s.printTrace()
		return nil
	}
	return fmt.Errorf("unknown command %q (type 'help' for available commands): %w", cmd, core.Inval)
}

func (s *session) help() {
	fmt.Fprintln(s.out, "Available commands:")
	fmt.Fprintln(s.out, "  sub <port> <pin> <trigger>  - Subscribe a handler (rising|falling|both|high|low)")
	fmt.Fprintln(s.out, "  unmask <port> <pin>         - Start delivering events")
	fmt.Fprintln(s.out, "  mask <port> <pin>           - Stop delivering events")
	fmt.Fprintln(s.out, "  unsub <port> <pin>          - Remove the handler")
	fmt.Fprintln(s.out, "  drive <port> <pin> <0|1>    - Set a GPIO level")
	fmt.Fprintln(s.out, "  write <text>                - Write text to the bus")
	fmt.Fprintln(s.out, "  read <n>                    - Read n bytes from the bus")
	fmt.Fprintln(s.out, "  bench <bytes>               - Loop data through the bus")
	fmt.Fprintln(s.out, "  trace                       - Dump the interrupt trace ring")
	fmt.Fprintln(s.out, "  quit                        - Exit")
}

func (s *session) printTrace() {
	events := s.trace.Events()
	if len(events) == 0 {
		fmt.Fprintln(s.out, "trace empty")
		return
	}
	fmt.Fprintf(s.out, "%-6s %-13s %-6s %-10s %s\n", "SEQ", "KIND", "SRC", "A", "B")
	for _, evt := range events {
		fmt.Fprintf(s.out, "%-6d %-13s %-6d %#-10x %#x\n", evt.Seq, evt.Kind, evt.Source, evt.A, evt.B)
	}
}

func parsePin(args []string) (exti.PinID, error) {
	if len(args) < 2 {
		return exti.PinID{}, fmt.Errorf("expected <port> <pin>: %w", core.Inval)
	}

	var port exti.Port
	p := strings.ToUpper(args[0])
	if len(p) == 1 && p[0] >= 'A' && p[0] <= 'Z' {
		port = exti.Port(p[0] - 'A')
	} else {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return exti.PinID{}, fmt.Errorf("port %q: %w", args[0], core.Inval)
		}
		port = exti.Port(n)
	}

	line, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil || line >= exti.MaxLines {
		return exti.PinID{}, fmt.Errorf("pin %q: %w", args[1], core.Inval)
	}
	return exti.PinID{P: port, L: exti.Line(line)}, nil
}

func (s *session) subscribe(args []string) error {
	pin, err := parsePin(args)
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return fmt.Errorf("expected a trigger: %w", core.Inval)
	}
	trig, err := exti.ParseTrigger(args[2])
	if err != nil {
		return err
	}

	// The line is masked on entry; re-arm it for the next event.
	var h *exti.Handler
	h = exti.NewHandler(func(ctx any) {
		p := ctx.(exti.PinID)
		s.fired[p]++
		fmt.Fprintf(s.out, "event %s #%d\n", p, s.fired[p])
		_ = s.mgr.Unmask(h)
	}, pin)
	if err := s.mgr.Subscribe(h, pin, trig); err != nil {
		return err
	}
	s.handlers[pin] = h
	fmt.Fprintf(s.out, "subscribed %s (%s, masked)\n", pin, trig)
	return nil
}

func (s *session) withHandler(args []string, op func(*exti.Handler) error) error {
	pin, err := parsePin(args)
	if err != nil {
		return err
	}
	h, ok := s.handlers[pin]
	if !ok {
		return fmt.Errorf("no handler on %s: %w", pin, core.NoEnt)
	}
	if err := op(h); err != nil {
		return err
	}
	if !h.Subscribed() {
		delete(s.handlers, pin)
	}
	return nil
}

func (s *session) drive(args []string) error {
	pin, err := parsePin(args)
	if err != nil {
		return err
	}
	if len(args) < 3 || (args[2] != "0" && args[2] != "1") {
		return fmt.Errorf("expected level 0 or 1: %w", core.Inval)
	}
	s.periph.Drive(pin.P, pin.L, args[2] == "1")
	return nil
}

func (s *session) write(args []string) error {
	data := []byte(strings.Join(args, " "))
	n := s.pipe.Write(data)
	fmt.Fprintf(s.out, "wrote %d/%d bytes (%s)\n", n, len(data), s.pipe.LastError())
	if n < 0 {
		return s.pipe.LastError()
	}
	return nil
}

func (s *session) read(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("expected a byte count: %w", core.Inval)
	}
	size, err := strconv.Atoi(args[0])
	if err != nil || size < 0 {
		return fmt.Errorf("count %q: %w", args[0], core.Inval)
	}

	buf := make([]byte, size)
	n := s.pipe.Read(buf)
	if n < 0 {
		fmt.Fprintf(s.out, "read failed (%s)\n", s.pipe.LastError())
		return s.pipe.LastError()
	}
	fmt.Fprintf(s.out, "read %d/%d bytes (%s): %q\n", n, size, s.pipe.LastError(), buf[:n])
	return nil
}

// bench pushes total bytes through the bus in chunks, reading each chunk
// back and checking it.
func (s *session) bench(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("expected a byte count: %w", core.Inval)
	}
	total, err := strconv.Atoi(args[0])
	if err != nil || total <= 0 {
		return fmt.Errorf("count %q: %w", args[0], core.Inval)
	}

	chunk := min(s.capacity, 64)
	if chunk <= 0 {
		chunk = 64
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionSetDescription("bench"),
		progressbar.OptionShowBytes(true),
	)

	out := make([]byte, chunk)
	in := make([]byte, chunk)
	for done := 0; done < total; {
		n := min(chunk, total-done)
		for i := range out[:n] {
			out[i] = byte(done + i)
		}
		if w := s.pipe.Write(out[:n]); w != n {
			return fmt.Errorf("bench write at %d: %w", done, s.pipe.LastError())
		}
		if r := s.pipe.Read(in[:n]); r != n {
			return fmt.Errorf("bench read at %d: %w", done, s.pipe.LastError())
		}
		if !bytes.Equal(out[:n], in[:n]) {
			return fmt.Errorf("bench data mismatch at %d: %w", done, core.IO)
		}
		done += n
		_ = bar.Add(n)
	}
	_ = bar.Finish()
	fmt.Fprintf(s.out, "\nbench: %d bytes ok\n", total)
	return nil
}
