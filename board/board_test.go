package board

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"thecore/core"
	"thecore/core/exti"
)

func TestDefaultBoard(t *testing.T) {
	b := Default()

	if b.Name != "stm32f4-sim" {
		t.Errorf("Unexpected name %q", b.Name)
	}
	if b.IRQCount != 82 {
		t.Errorf("Expected 82 vectors, got %d", b.IRQCount)
	}
	if !b.EdgeOnly {
		t.Error("STM32F4 must be edge-only")
	}

	want := exti.STM32F4()
	if len(b.EXTI.Direct) != len(want.Direct) || len(b.EXTI.Groups) != len(want.Groups) {
		t.Fatalf("Layout mismatch: %+v", b.EXTI)
	}
	for i := range want.Direct {
		if b.EXTI.Direct[i] != want.Direct[i] {
			t.Errorf("Direct[%d]: expected %+v, got %+v", i, want.Direct[i], b.EXTI.Direct[i])
		}
	}
	for i := range want.Groups {
		if b.EXTI.Groups[i] != want.Groups[i] {
			t.Errorf("Groups[%d]: expected %+v, got %+v", i, want.Groups[i], b.EXTI.Groups[i])
		}
	}

	uart, ok := b.FirstBus(KindUART)
	if !ok || uart.Baud != 115200 {
		t.Errorf("Expected a 115200 baud uart, got %+v", uart)
	}
	spi, ok := b.Bus("spi1")
	if !ok || spi.Capacity != 256 {
		t.Errorf("Expected spi1 with capacity 256, got %+v", spi)
	}

	vecs := b.Vectors()
	if len(vecs) != 7 || vecs[0] != 6 || vecs[6] != 40 {
		t.Errorf("Unexpected vectors %v", vecs)
	}
}

func TestBuiltinBoards(t *testing.T) {
	names := Builtin()
	if len(names) != 2 || names[0] != "stm32f4" || names[1] != "tm4c" {
		t.Fatalf("Unexpected built-in boards %v", names)
	}
	for _, name := range names {
		if _, err := Load(name); err != nil {
			t.Errorf("Load(%q): %v", name, err)
		}
	}
	if _, err := Load("nosuchboard"); !errors.Is(err, core.NoEnt) {
		t.Errorf("Expected noent, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.yaml")
	data := `
name: custom
irqCount: 16
exti:
  direct:
    - {line: 0, irq: 3}
buses:
  - name: loop
    kind: loopback
`
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := Load(file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b.Buses[0].Capacity != 256 {
		t.Errorf("Expected default capacity 256, got %d", b.Buses[0].Capacity)
	}
	if b.EdgeOnly {
		t.Error("edgeOnly should default to false")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"no vectors", "name: x\nirqCount: 0\n", core.Inval},
		{"vector out of range", "name: x\nirqCount: 4\nexti:\n  direct:\n    - {line: 0, irq: 9}\n", core.Range},
		{"overlapping lines", "name: x\nirqCount: 40\nexti:\n  direct:\n    - {line: 5, irq: 1}\n  groups:\n    - {irq: 2, first: 5, last: 9}\n", core.Inval},
		{"shared vector", "name: x\nirqCount: 40\nexti:\n  direct:\n    - {line: 0, irq: 6}\n    - {line: 1, irq: 6}\n", core.Inval},
		{"duplicate bus", "name: x\nirqCount: 4\nbuses:\n  - {name: a, kind: uart}\n  - {name: a, kind: uart}\n", core.Exist},
		{"unknown kind", "name: x\nirqCount: 4\nbuses:\n  - {name: a, kind: can}\n", core.NotSup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := Parse([]byte("irqCount: [")); err == nil {
		t.Error("Expected a yaml error")
	}
}
