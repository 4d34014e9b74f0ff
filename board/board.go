// Package board loads board descriptions: how many interrupt vectors the
// part has, how EXTI lines map onto them and which buses exist.
package board

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"thecore/core"
	"thecore/core/exti"
	"thecore/core/irq"
)

//go:embed boards/*.yaml
var builtin embed.FS

// DefaultName is the board used when none is given.
const DefaultName = "stm32f4"

// Bus kinds
const (
	KindLoopback = "loopback"
	KindUART     = "uart"
)

// Bus describes one bus instance.
type Bus struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Capacity int    `yaml:"capacity,omitempty"`
	Device   string `yaml:"device,omitempty"`
	Baud     int    `yaml:"baud,omitempty"`
}

// Board is a parsed board file.
type Board struct {
	Name     string      `yaml:"name"`
	IRQCount int         `yaml:"irqCount"`
	EdgeOnly bool        `yaml:"edgeOnly"`
	EXTI     exti.Layout `yaml:"exti"`
	Buses    []Bus       `yaml:"buses"`
}

// Parse decodes and validates a board description.
func Parse(data []byte) (*Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	b.normalize()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Load reads a board file from disk, or a built-in board when name has no
// path separator and no extension (e.g. "stm32f4").
func Load(name string) (*Board, error) {
	if name == "" {
		name = DefaultName
	}
	if !strings.ContainsAny(name, `/\`) && path.Ext(name) == "" {
		data, err := builtin.ReadFile("boards/" + name + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("board %q: %w", name, core.NoEnt)
		}
		return Parse(data)
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in STM32F4 board.
func Default() *Board {
	b, err := Load(DefaultName)
	if err != nil {
		panic(err)
	}
	return b
}

// Builtin lists the names of the embedded boards.
func Builtin() []string {
	entries, _ := builtin.ReadDir("boards")
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

func (b *Board) normalize() {
	for i := range b.Buses {
		bus := &b.Buses[i]
		if bus.Kind == KindLoopback && bus.Capacity == 0 {
			bus.Capacity = 256
		}
		if bus.Kind == KindUART && bus.Baud == 0 {
			bus.Baud = 115200
		}
	}
}

// Validate checks the description for internal consistency.
func (b *Board) Validate() error {
	if b.IRQCount <= 0 {
		return fmt.Errorf("board %q: irqCount must be positive: %w", b.Name, core.Inval)
	}
	if err := b.EXTI.Validate(); err != nil {
		return fmt.Errorf("board %q: %w", b.Name, err)
	}
	for vec := range b.EXTI.VectorLines() {
		if vec < 0 || int(vec) >= b.IRQCount {
			return fmt.Errorf("board %q: exti irq %d outside [0, %d): %w", b.Name, vec, b.IRQCount, core.Range)
		}
	}

	seen := make(map[string]bool)
	for _, bus := range b.Buses {
		if bus.Name == "" {
			return fmt.Errorf("board %q: unnamed bus: %w", b.Name, core.Inval)
		}
		if seen[bus.Name] {
			return fmt.Errorf("board %q: bus %q defined twice: %w", b.Name, bus.Name, core.Exist)
		}
		seen[bus.Name] = true

		switch bus.Kind {
		case KindLoopback, KindUART:
		default:
			return fmt.Errorf("board %q: bus %q: unknown kind %q: %w", b.Name, bus.Name, bus.Kind, core.NotSup)
		}
	}
	return nil
}

// Bus returns the named bus.
func (b *Board) Bus(name string) (Bus, bool) {
	for _, bus := range b.Buses {
		if bus.Name == name {
			return bus, true
		}
	}
	return Bus{}, false
}

// FirstBus returns the first bus of the given kind.
func (b *Board) FirstBus(kind string) (Bus, bool) {
	for _, bus := range b.Buses {
		if bus.Kind == kind {
			return bus, true
		}
	}
	return Bus{}, false
}

// Vectors returns the EXTI vectors in ascending order.
func (b *Board) Vectors() []irq.Num {
	var out []irq.Num
	for vec := range b.EXTI.VectorLines() {
		out = append(out, vec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
