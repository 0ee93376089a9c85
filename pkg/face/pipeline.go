package face

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/visage/pkg/audio"
	"github.com/MrWong99/visage/pkg/provider/inference"
)

// State is the lifecycle state of a [Pipeline].
type State int

const (
	// StateUninitialized means no session is bound. Processing calls fail
	// with [ErrNotBound].
	StateUninitialized State = iota

	// StateReady means a session is bound and audio can be processed.
	StateReady
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Mode labels which path produced a window, for metrics.
type Mode string

const (
	ModeStream Mode = "stream"
	ModeBatch  Mode = "batch"
)

// Recorder receives per-window inference outcomes. Implementations must be
// cheap; they run inline after every window.
type Recorder interface {
	RecordWindow(ctx context.Context, mode Mode, latency time.Duration, err error)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithSmoothing sets the initial smoothing factor. Default: [DefaultSmoothing].
func WithSmoothing(alpha float32) Option {
	return func(p *Pipeline) { p.smoother.SetFactor(alpha) }
}

// WithRecorder reports every processed window to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// Pipeline converts audio into animation frames through one exclusively owned
// inference session. It serves both the streaming path, which consumes at most
// one window per call and smooths across calls, and the batch path, which
// processes a whole recording and averages the result.
//
// A Pipeline is not safe for concurrent use.
type Pipeline struct {
	sess     inference.Session
	adapter  *Adapter
	acc      *audio.Accumulator
	smoother *Smoother
	recorder Recorder
	log      *slog.Logger

	// streamed counts windows the streaming path turned into frames.
	streamed uint64
}

// New returns an uninitialized Pipeline. Call [Pipeline.Bind] or
// [Pipeline.Load] before processing audio.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		acc:      audio.NewAccumulator(),
		smoother: NewSmoother(DefaultSmoothing),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bind attaches sess and moves the pipeline to [StateReady]. A previously
// bound session is closed first, and buffered audio and smoothing state are
// cleared. sess must not be nil.
func (p *Pipeline) Bind(sess inference.Session) {
	if p.sess != nil {
		_ = p.Dispose()
	}
	p.sess = sess
	p.adapter = NewAdapter(sess)
	p.log.Info("inference session bound",
		"inputs", sess.InputNames(),
		"outputs", sess.OutputNames(),
		"audio_input", p.adapter.AudioInput(),
	)
}

// Load builds a session from model bytes with l, retrying once on the CPU if
// an accelerated load fails, and binds it.
func (p *Pipeline) Load(ctx context.Context, l inference.Loader, model []byte, opts inference.LoadOptions) error {
	sess, err := inference.LoadWithFallback(ctx, l, model, opts)
	if err != nil {
		return fmt.Errorf("face: %w", err)
	}
	p.Bind(sess)
	return nil
}

// Dispose closes the bound session, clears buffered audio and smoothing state
// and returns the pipeline to [StateUninitialized]. It may be bound again
// afterwards. Disposing an unbound pipeline is a no-op.
func (p *Pipeline) Dispose() error {
	p.acc.Reset()
	p.smoother.Reset()
	p.streamed = 0
	if p.sess == nil {
		return nil
	}
	sess := p.sess
	p.sess = nil
	p.adapter = nil
	if err := sess.Close(); err != nil {
		return fmt.Errorf("face: close session: %w", err)
	}
	return nil
}

// State returns the lifecycle state.
func (p *Pipeline) State() State {
	if p.sess == nil {
		return StateUninitialized
	}
	return StateReady
}

// Session returns the bound session, or nil.
func (p *Pipeline) Session() inference.Session { return p.sess }

// SetSmoothing changes the smoothing factor, clamped to [0, 1]. Frames
// already produced are not affected.
func (p *Pipeline) SetSmoothing(alpha float32) { p.smoother.SetFactor(alpha) }

// Smoothing returns the current smoothing factor.
func (p *Pipeline) Smoothing() float32 { return p.smoother.Factor() }

// Buffered returns the number of streaming samples waiting for a window.
func (p *Pipeline) Buffered() int { return p.acc.Len() }

// Streamed returns how many windows [Pipeline.ProcessChunk] has turned into
// frames since the session was bound. A caller can compare it across calls to
// tell a fresh frame from a repeated or empty one.
func (p *Pipeline) Streamed() uint64 { return p.streamed }

// ProcessChunk appends a chunk of 16 kHz samples to the stream buffer. When a
// full window is available, exactly one window is run through the model,
// smoothed against the previous frame and returned; any further complete
// windows stay buffered for later calls. Without a full window the previous
// smoothed frame, or [EmptyFrame] if there is none, is returned.
//
// On inference failure the window is consumed, the smoothing state is left
// untouched and an [*InferenceError] is returned.
func (p *Pipeline) ProcessChunk(ctx context.Context, chunk []float32) (Frame, error) {
	if p.sess == nil {
		return Frame{}, ErrNotBound
	}
	p.acc.Push(chunk)

	window, ok := p.acc.Next()
	if !ok {
		if last, ok := p.smoother.Last(); ok {
			return last, nil
		}
		return EmptyFrame(), nil
	}

	raw, err := p.infer(ctx, ModeStream, 0, window)
	if err != nil {
		return Frame{}, err
	}
	p.streamed++
	return p.smoother.Apply(raw), nil
}

// ProcessFile converts a complete mono recording at sampleRate into one
// Aggregate. The audio is resampled to 16 kHz if needed, split into
// overlapping windows and run through the model in order. The first failing
// window aborts the call; no partial result is returned. Streaming state is
// not touched.
func (p *Pipeline) ProcessFile(ctx context.Context, samples []float32, sampleRate int) (Aggregate, error) {
	if p.sess == nil {
		return Aggregate{}, ErrNotBound
	}
	if err := audio.CheckSampleRate(sampleRate); err != nil {
		return Aggregate{}, fmt.Errorf("%w: %w", ErrUnsupportedSource, err)
	}

	pcm := audio.Resample(samples, sampleRate, audio.TargetSampleRate)
	windows := audio.Windows(pcm)
	p.log.Debug("processing recording",
		"samples", len(samples),
		"sample_rate", sampleRate,
		"windows", len(windows),
	)

	frames := make([]Frame, 0, len(windows))
	for i, w := range windows {
		f, err := p.infer(ctx, ModeBatch, i, w)
		if err != nil {
			return Aggregate{}, err
		}
		frames = append(frames, f)
	}
	return AggregateFrames(frames), nil
}

func (p *Pipeline) infer(ctx context.Context, mode Mode, index int, window []float32) (Frame, error) {
	start := time.Now()
	f, err := p.adapter.Infer(ctx, window)
	if p.recorder != nil {
		p.recorder.RecordWindow(ctx, mode, time.Since(start), err)
	}
	if err != nil {
		p.log.Warn("inference failed", "mode", mode, "window", index, "err", err)
		return Frame{}, &InferenceError{Window: index, Err: err}
	}
	return f, nil
}
