package capture

import (
	"encoding/binary"
	"io"
	"log"
	"sync"
)

// RingStream fills a looping sample ring from little-endian PCM16 read from r.
// It stops capturing when r returns an error.
type RingStream struct {
	mu        sync.Mutex
	buf       []float32
	cursor    int
	capturing bool

	closer   io.Closer
	stopOnce sync.Once
	done     chan struct{}
}

// NewRingStream starts reading r into a ring of size samples. closer, if set,
// is closed by Stop.
func NewRingStream(r io.Reader, size int, closer io.Closer) *RingStream {
	s := &RingStream{
		buf:       make([]float32, size),
		capturing: true,
		closer:    closer,
		done:      make(chan struct{}),
	}
	go s.fill(r)
	return s
}

func (s *RingStream) fill(r io.Reader) {
	defer close(s.done)
	chunk := make([]byte, 4096)
	var carry []byte
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data := append(carry, chunk[:n]...)
			even := len(data) &^ 1
			s.mu.Lock()
			for i := 0; i < even; i += 2 {
				v := int16(binary.LittleEndian.Uint16(data[i:]))
				s.buf[s.cursor] = float32(v) / 32768
				s.cursor = (s.cursor + 1) % len(s.buf)
			}
			s.mu.Unlock()
			carry = append(carry[:0], data[even:]...)
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("[capture] ring read ended: %v", err)
			}
			s.mu.Lock()
			s.capturing = false
			s.mu.Unlock()
			return
		}
	}
}

func (s *RingStream) WriteCursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *RingStream) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

func (s *RingStream) Read(dst []float32, offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range dst {
		dst[i] = s.buf[(offset+i)%len(s.buf)]
	}
}

func (s *RingStream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.capturing = false
		s.mu.Unlock()
		if s.closer != nil {
			_ = s.closer.Close()
		}
	})
}

// Done is closed once the reader goroutine has returned.
func (s *RingStream) Done() <-chan struct{} { return s.done }
