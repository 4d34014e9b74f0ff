// Command thecore-sim runs the interrupt and bus core against a simulated
// board and drives it from an interactive prompt.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"thecore/board"
	"thecore/core"
	"thecore/core/bus"
	"thecore/host/serial"
	"thecore/host/sim"
)

var (
	boardName = flag.String("board", board.DefaultName, "Built-in board name or board file path")
	device    = flag.String("serial", "", "Serial device for the uart bus (loopback when empty)")
	baud      = flag.Int("baud", 0, "Baud rate override for -serial")
	verbose   = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	logrus.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.StampMilli,
	})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := core.Logger("main")

	b, err := board.Load(*boardName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	plat, capacity, closer, err := openBus(b)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	s, err := newSession(b, plat, capacity, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{
		"board":   b.Name,
		"vectors": b.IRQCount,
	}).Info("board ready")

	fmt.Printf("theCore simulator - %s (%d vectors)\n", b.Name, b.IRQCount)
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")

	if err := repl(s, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// openBus picks the bus the pipe runs over: the board's uart when -serial
// is set, otherwise its first loopback bus.
func openBus(b *board.Board) (bus.Platform, int, io.Closer, error) {
	if *device != "" {
		cfg := serial.DefaultConfig(*device)
		if desc, ok := b.FirstBus(board.KindUART); ok {
			cfg.Baud = desc.Baud
		}
		if *baud > 0 {
			cfg.Baud = *baud
		}
		port, err := serial.Open(cfg)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("open %s: %w", *device, err)
		}
		return serial.NewUART(port), 64, port, nil
	}

	desc, ok := b.FirstBus(board.KindLoopback)
	if !ok {
		return nil, 0, nil, fmt.Errorf("board %q has no loopback bus and -serial is not set: %w", b.Name, core.NoDev)
	}
	return sim.NewBus(desc.Capacity), desc.Capacity, nil, nil
}

func repl(s *session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := s.exec(line)
		if errors.Is(err, errQuit) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}
