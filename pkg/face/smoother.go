package face

import "log/slog"

// DefaultSmoothing is the default weight given to the previous frame.
const DefaultSmoothing = 0.3

// Smoother applies an exponential moving average to blendshape weights
// across consecutive frames. Jaw, gaze and timestamp are never smoothed.
//
// The stored state is the previous smoothed output, so smoothing compounds
// over the whole stream.
type Smoother struct {
	alpha float32
	last  *Frame
}

// NewSmoother returns a Smoother with factor alpha, clamped to [0, 1].
func NewSmoother(alpha float32) *Smoother {
	s := &Smoother{}
	s.SetFactor(alpha)
	return s
}

// SetFactor sets the weight of the previous frame, clamped to [0, 1]. Zero
// disables smoothing; one freezes the output at the first frame's weights.
func (s *Smoother) SetFactor(alpha float32) { s.alpha = clamp01(alpha) }

// Factor returns the current smoothing factor.
func (s *Smoother) Factor() float32 { return s.alpha }

// Smooth blends curr against prev: out[i] = prev[i]*α + curr[i]*(1-α).
// With no previous frame, or when the weight counts differ, curr is returned
// unchanged.
func (s *Smoother) Smooth(prev *Frame, curr Frame) Frame {
	if prev == nil {
		return curr
	}
	if len(prev.Blendshapes) != len(curr.Blendshapes) {
		slog.Debug("smoother: blendshape count changed, skipping smoothing",
			"previous", len(prev.Blendshapes),
			"current", len(curr.Blendshapes),
		)
		return curr
	}
	out := curr
	out.Blendshapes = make(Blendshapes, len(curr.Blendshapes))
	for i, c := range curr.Blendshapes {
		out.Blendshapes[i] = Blendshape{
			Name:  c.Name,
			Value: prev.Blendshapes[i].Value*s.alpha + c.Value*(1-s.alpha),
		}
	}
	return out
}

// Apply smooths curr against the stored state, stores the result and
// returns it.
func (s *Smoother) Apply(curr Frame) Frame {
	out := s.Smooth(s.last, curr)
	stored := out.Clone()
	s.last = &stored
	return out
}

// Last returns a copy of the stored state. It reports false before the first
// Apply and after Reset.
func (s *Smoother) Last() (Frame, bool) {
	if s.last == nil {
		return Frame{}, false
	}
	return s.last.Clone(), true
}

// Reset forgets the stored state.
func (s *Smoother) Reset() { s.last = nil }
