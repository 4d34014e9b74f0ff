// Package serial connects the generic bus to a real UART on the host.
package serial

import (
	"io"
	"time"
)

// Port is an open serial device.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data not yet transmitted or read.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	Baud int

	// ReadTimeout bounds a receive transfer; zero blocks until the buffer
	// is full.
	ReadTimeout time.Duration
}

// DefaultConfig returns 115200 baud with a 100ms receive timeout.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}
