package ring

import (
	"sync"
	"time"
)

// StdinSize is the capacity of the stdin-rx ring (host -> script).
const StdinSize = 4096

// Stdin is a single-producer (the I/O loop), single-consumer (the scripting runtime)
// byte ring buffer paired with a counting semaphore: one permit per readable byte,
// matching ide_dbg.c's stdin_ring_buffer + stdin_sem.
type Stdin struct {
	mu   sync.Mutex
	buf  [StdinSize]byte
	w, r uint32

	sem chan struct{}
}

// NewStdin returns an empty stdin ring.
func NewStdin() *Stdin {
	return &Stdin{sem: make(chan struct{}, StdinSize)}
}

// Write appends a single byte and posts one semaphore permit. The caller (the I/O
// loop) is the ring's sole producer, so overflow simply rotates the oldest byte out,
// mirroring the original's wraparound write.
func (s *Stdin) Write(b byte) {
	s.mu.Lock()
	s.buf[s.w] = b
	s.w = (s.w + 1) % StdinSize
	s.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	default:
		// Ring wrapped past an unread byte: semaphore is already saturated at
		// StdinSize permits, matching the readable byte count.
	}
}

// Read blocks up to timeout waiting for one byte, returning ok=false on timeout —
// the Go analogue of usb_rx()'s sem_timedwait with a 1ms timeout.
func (s *Stdin) Read(timeout time.Duration) (b byte, ok bool) {
	select {
	case <-s.sem:
	case <-time.After(timeout):
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b = s.buf[s.r]
	s.r = (s.r + 1) % StdinSize
	return b, true
}

// Clear drains all pending permits and advances the read index past them, the
// equivalent of usb_rx_clear().
func (s *Stdin) Clear() {
	for {
		select {
		case <-s.sem:
			s.mu.Lock()
			s.r = (s.r + 1) % StdinSize
			s.mu.Unlock()
		default:
			return
		}
	}
}

// Readable reports the semaphore's current permit count, which by construction always
// equals the number of readable bytes.
func (s *Stdin) Readable() int {
	return len(s.sem)
}
