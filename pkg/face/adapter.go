package face

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/visage/pkg/provider/inference"
)

const (
	// emotionInput is fed a neutral vector when the model declares it.
	emotionInput = "emotion"

	// emotionSize is the length of the emotion conditioning vector.
	emotionSize = 26
)

// Adapter converts audio windows into model feeds and model outputs into
// Frames for one inference session.
//
// Outputs are classified by name, case-sensitively and in declaration order:
// names containing "blendshape" or "shape" carry the weights, names containing
// "jaw" carry the jaw opening, names containing "eye" carry gaze. A model that
// names its outputs differently falls back to reading weights from its first
// output and never reports jaw or gaze.
type Adapter struct {
	sess       inference.Session
	audioInput string
	hasEmotion bool
	now        func() time.Time
}

// NewAdapter inspects the session's declared inputs once. The audio window is
// bound to the input named "audio", else "input", else the first declared
// input.
func NewAdapter(sess inference.Session) *Adapter {
	inputs := sess.InputNames()
	a := &Adapter{
		sess:       sess,
		hasEmotion: slices.Contains(inputs, emotionInput),
		now:        time.Now,
	}
	switch {
	case slices.Contains(inputs, "audio"):
		a.audioInput = "audio"
	case slices.Contains(inputs, "input"):
		a.audioInput = "input"
	case len(inputs) > 0:
		a.audioInput = inputs[0]
	}
	return a
}

// AudioInput returns the input name the audio window is bound to.
func (a *Adapter) AudioInput() string { return a.audioInput }

// Feeds builds the model inputs for one window: the samples shaped
// [1, 1, len(window)] and, if the model declares an "emotion" input, a zero
// vector shaped [1, 1, 26].
func (a *Adapter) Feeds(window []float32) map[string]inference.Tensor {
	feeds := map[string]inference.Tensor{
		a.audioInput: inference.NewTensor(window, 1, 1, int64(len(window))),
	}
	if a.hasEmotion {
		feeds[emotionInput] = inference.Zeros(1, 1, emotionSize)
	}
	return feeds
}

// Decode interprets model outputs as a Frame. Weights and jaw are clamped to
// [0, 1]; at most NumBlendshapes weights are read. A declared output missing
// from outputs decodes as empty. When no output classifies as weights and the
// model declares at least one output, the first declared output is used.
func (a *Adapter) Decode(outputs map[string]inference.Tensor) Frame {
	f := Frame{Timestamp: a.now()}
	names := a.sess.OutputNames()

	var haveWeights bool
	for _, name := range names {
		data := outputs[name].Data
		switch {
		case strings.Contains(name, "blendshape") || strings.Contains(name, "shape"):
			if !haveWeights {
				f.Blendshapes = decodeWeights(data)
				haveWeights = true
			}
		case strings.Contains(name, "jaw"):
			f.Jaw = clamp01(at(data, 0))
		case strings.Contains(name, "eye"):
			f.Eyes = &EyeGaze{
				LeftX:  at(data, 0),
				LeftY:  at(data, 1),
				RightX: at(data, 2),
				RightY: at(data, 3),
			}
		}
	}

	if len(f.Blendshapes) == 0 && len(names) > 0 {
		f.Blendshapes = decodeWeights(outputs[names[0]].Data)
	}
	return f
}

// Infer runs one window through the session and decodes the result. Engine
// failures are returned unwrapped; the pipeline adds window context.
func (a *Adapter) Infer(ctx context.Context, window []float32) (Frame, error) {
	out, err := a.sess.Run(ctx, a.Feeds(window))
	if err != nil {
		return Frame{}, err
	}
	return a.Decode(out), nil
}

func decodeWeights(data []float32) Blendshapes {
	n := min(len(data), NumBlendshapes)
	out := make(Blendshapes, n)
	for i := range n {
		out[i] = Blendshape{Name: BlendshapeName(i), Value: clamp01(data[i])}
	}
	return out
}

func at(data []float32, i int) float32 {
	if i < len(data) {
		return data[i]
	}
	return 0
}
