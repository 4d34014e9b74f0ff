package bus

import (
	"tinygo.org/x/drivers"

	"thecore/core"
)

// SPI adapts a Generic bus to the TinyGo drivers.SPI interface, so device
// drivers from tinygo.org/x/drivers run over any Platform.
type SPI struct {
	bus *Generic
}

var _ drivers.SPI = (*SPI)(nil)

// NewSPI wraps g. g must already be initialized.
func NewSPI(g *Generic) *SPI {
	return &SPI{bus: g}
}

// Tx sends w and receives into r in one locked transfer. Either may be nil;
// otherwise they must have the same length.
func (s *SPI) Tx(w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	if len(w) == 0 {
		w = nil
	}
	if len(r) == 0 {
		r = nil
	}

	s.bus.Lock()
	defer s.bus.Unlock()

	if err := s.bus.SetBuffers(w, r); err != nil {
		return err
	}
	sent, received, err := s.bus.Xfer()
	if err != nil {
		return err
	}
	if sent < len(w) || received < len(r) {
		return wrap("spi short transfer", core.IO)
	}
	return nil
}

// Transfer exchanges a single byte.
func (s *SPI) Transfer(b byte) (byte, error) {
	var rx [1]byte
	err := s.Tx([]byte{b}, rx[:])
	return rx[0], err
}
