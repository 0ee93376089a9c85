package audio

import "fmt"

// StreamResampler is the streaming counterpart of [Resample]. It keeps the
// source position and the unconsumed tail between calls, so feeding a signal
// in pieces yields the same samples as resampling it in one go: no output is
// lost at piece boundaries and nothing is held at a piece's last sample.
//
// A StreamResampler is not safe for concurrent use.
type StreamResampler struct {
	from, to int64

	// buf holds source samples starting at absolute index base.
	buf      []float32
	base     int64
	produced int64
}

// NewStreamResampler returns a resampler from fromRate to toRate Hz.
func NewStreamResampler(fromRate, toRate int) (*StreamResampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resampling rates %d -> %d", fromRate, toRate)
	}
	return &StreamResampler{from: int64(fromRate), to: int64(toRate)}, nil
}

// Process appends in to the stream and returns every output sample whose
// interpolation neighbours are now known. With equal rates in is returned
// as is.
func (s *StreamResampler) Process(in []float32) []float32 {
	if s.from == s.to {
		return in
	}
	s.buf = append(s.buf, in...)
	end := s.base + int64(len(s.buf))
	total := end * s.to / s.from

	out := make([]float32, 0, int64(len(in))*s.to/s.from+1)
	for s.produced < total {
		idx, frac := s.position()
		if idx+1 >= end {
			break
		}
		i := idx - s.base
		out = append(out, s.buf[i]*(1-frac)+s.buf[i+1]*frac)
		s.produced++
	}
	s.compact()
	return out
}

// Flush emits the samples [Resample] would produce past the last complete
// interpolation pair, holding the final source sample, and resets the
// stream.
func (s *StreamResampler) Flush() []float32 {
	defer s.Reset()
	if s.from == s.to || len(s.buf) == 0 {
		return nil
	}
	end := s.base + int64(len(s.buf))
	total := end * s.to / s.from
	last := s.buf[len(s.buf)-1]

	var out []float32
	for ; s.produced < total; s.produced++ {
		idx, frac := s.position()
		if idx+1 >= end {
			out = append(out, last)
			continue
		}
		i := idx - s.base
		out = append(out, s.buf[i]*(1-frac)+s.buf[i+1]*frac)
	}
	return out
}

// Reset discards buffered input and restarts the stream at position zero.
func (s *StreamResampler) Reset() {
	s.buf = s.buf[:0]
	s.base = 0
	s.produced = 0
}

// position returns the source index and interpolation fraction of the next
// output sample, computed exactly from the output count.
func (s *StreamResampler) position() (int64, float32) {
	num := s.produced * s.from
	return num / s.to, float32(float64(num%s.to) / float64(s.to))
}

// compact drops source samples that no future output can reference.
func (s *StreamResampler) compact() {
	idx, _ := s.position()
	drop := idx - s.base
	if drop <= 0 {
		return
	}
	if drop > int64(len(s.buf)) {
		drop = int64(len(s.buf))
	}
	n := copy(s.buf, s.buf[drop:])
	s.buf = s.buf[:n]
	s.base += drop
}
