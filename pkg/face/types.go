// Package face turns windows of 16 kHz mono audio into facial-animation
// parameters: 52 blendshape weights, a jaw-opening value and optional eye gaze.
//
// The package is built from small parts that can be used on their own:
//
//   - [Adapter] builds model feeds from a window and decodes model outputs
//     into a [Frame].
//   - [Smoother] blends consecutive frames with an exponential moving average.
//   - [AggregateFrames] averages a recording's frames into one [Aggregate].
//   - [Pipeline] composes them with an audio.Accumulator into the streaming
//     ([Pipeline.ProcessChunk]) and batch ([Pipeline.ProcessFile]) paths.
//
// Nothing here is safe for concurrent use. A Pipeline exclusively owns its
// inference session, buffer and smoothing state; callers that share one must
// serialise access.
package face

import (
	"fmt"
	"time"
)

// NumBlendshapes is the number of blendshape weights a model produces.
const NumBlendshapes = 52

// Blendshape is one named facial-animation weight in [0, 1].
type Blendshape struct {
	Name  string  `json:"name"`
	Value float32 `json:"value"`
}

// Blendshapes is an ordered set of weights. Position i is always named
// BlendshapeName(i).
type Blendshapes []Blendshape

// BlendshapeName returns the canonical name for position i.
func BlendshapeName(i int) string {
	return fmt.Sprintf("blendshape_%d", i)
}

// Values returns the weights without names.
func (b Blendshapes) Values() []float32 {
	out := make([]float32, len(b))
	for i, s := range b {
		out[i] = s.Value
	}
	return out
}

// Strongest returns the highest-weighted entry. It reports false for an empty
// set.
func (b Blendshapes) Strongest() (Blendshape, bool) {
	if len(b) == 0 {
		return Blendshape{}, false
	}
	best := b[0]
	for _, s := range b[1:] {
		if s.Value > best.Value {
			best = s
		}
	}
	return best, true
}

func (b Blendshapes) clone() Blendshapes {
	if b == nil {
		return nil
	}
	return append(Blendshapes(nil), b...)
}

// zeroBlendshapes returns NumBlendshapes zero weights.
func zeroBlendshapes() Blendshapes {
	out := make(Blendshapes, NumBlendshapes)
	for i := range out {
		out[i] = Blendshape{Name: BlendshapeName(i)}
	}
	return out
}

// EyeGaze holds the gaze direction of both eyes. Components are passed
// through from the model unclamped.
type EyeGaze struct {
	LeftX  float32 `json:"leftX"`
	LeftY  float32 `json:"leftY"`
	RightX float32 `json:"rightX"`
	RightY float32 `json:"rightY"`
}

// Frame is the animation state decoded from one audio window.
type Frame struct {
	Blendshapes Blendshapes `json:"blendshapes"`

	// Jaw is the jaw opening in [0, 1].
	Jaw float32 `json:"jaw"`

	// Eyes is nil when the model does not produce gaze.
	Eyes *EyeGaze `json:"eyes"`

	// Timestamp is when the frame was decoded.
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := f
	out.Blendshapes = f.Blendshapes.clone()
	if f.Eyes != nil {
		eyes := *f.Eyes
		out.Eyes = &eyes
	}
	return out
}

// EmptyFrame is returned by the streaming path before any window has been
// processed: 52 zero weights, closed jaw, no gaze.
func EmptyFrame() Frame {
	return Frame{
		Blendshapes: zeroBlendshapes(),
		Timestamp:   time.Now(),
	}
}

// Aggregate summarises all frames of a recording.
type Aggregate struct {
	// Blendshapes holds per-position means across frames.
	Blendshapes Blendshapes `json:"blendshapes"`

	// Jaw is the mean jaw opening.
	Jaw float32 `json:"jaw"`

	// Eyes is the gaze of the last frame only, not an average.
	Eyes *EyeGaze `json:"eyes"`

	// FrameCount is the number of frames that were aggregated.
	FrameCount int `json:"frameCount"`
}

// EmptyAggregate is the result for a recording too short to yield a window.
func EmptyAggregate() Aggregate {
	return Aggregate{Blendshapes: zeroBlendshapes()}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
