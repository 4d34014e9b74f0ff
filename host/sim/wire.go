package sim

import "sync"

// Wire is the circular buffer behind the loopback bus: bytes a transfer
// sends are what the next transfer receives. It is safe for concurrent
// use.
type Wire struct {
	mu    sync.Mutex
	buf   []byte
	read  int
	write int
}

// NewWire creates a wire that holds up to capacity bytes in flight.
func NewWire(capacity int) *Wire {
	return &Wire{buf: make([]byte, capacity+1)}
}

// Write queues as much of data as fits and returns the count queued.
func (w *Wire) Write(data []byte) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, b := range data {
		next := (w.write + 1) % len(w.buf)
		if next == w.read {
			break
		}
		w.buf[w.write] = b
		w.write = next
		n++
	}
	return n
}

// Read dequeues up to len(data) bytes.
func (w *Wire) Read(data []byte) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for i := range data {
		if w.read == w.write {
			break
		}
		data[i] = w.buf[w.read]
		w.read = (w.read + 1) % len(w.buf)
		n++
	}
	return n
}

// Available returns the number of queued bytes.
func (w *Wire) Available() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available()
}

func (w *Wire) available() int {
	if w.write >= w.read {
		return w.write - w.read
	}
	return len(w.buf) - w.read + w.write
}

// Free returns how many more bytes fit.
func (w *Wire) Free() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf) - 1 - w.available()
}

// Reset drops everything queued.
func (w *Wire) Reset() {
	w.mu.Lock()
	w.read = 0
	w.write = 0
	w.mu.Unlock()
}
