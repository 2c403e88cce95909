package capture

import "time"

type Half int

const (
	HalfA Half = iota
	HalfB
)

func (h Half) String() string {
	if h == HalfA {
		return "A"
	}
	return "B"
}

// Segment is one half of the capture ring, copied out of the device buffer.
// It is never mutated after emission.
type Segment struct {
	Seq        int64
	Half       Half
	Samples    []float32
	SampleRate int
	Peak       float32
	CapturedAt time.Time
}

func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

func peak(samples []float32) float32 {
	var p float32
	for _, v := range samples {
		if v < 0 {
			v = -v
		}
		if v > p {
			p = v
		}
	}
	return p
}
