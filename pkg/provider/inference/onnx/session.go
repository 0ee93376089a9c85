package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/visage/pkg/provider/inference"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("onnx: session closed")

// Session is an inference.Session backed by an ONNX Runtime
// DynamicAdvancedSession. Run is serialised internally.
type Session struct {
	mu       sync.Mutex
	sess     *ort.DynamicAdvancedSession
	inputs   []string
	outputs  []string
	provider inference.ExecutionProvider
}

// InputNames implements inference.Session.
func (s *Session) InputNames() []string { return s.inputs }

// OutputNames implements inference.Session.
func (s *Session) OutputNames() []string { return s.outputs }

// Provider returns the execution provider the session was created with.
func (s *Session) Provider() inference.ExecutionProvider { return s.provider }

// Run implements inference.Session. Every declared input must be present in
// feeds. ONNX Runtime allocates the outputs; their data is copied out before
// the native values are destroyed. The engine call itself cannot be
// interrupted, so ctx is only checked before it starts.
func (s *Session) Run(ctx context.Context, feeds map[string]inference.Tensor) (map[string]inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, ErrClosed
	}

	in := make([]ort.Value, len(s.inputs))
	defer destroyAll(in)
	for i, name := range s.inputs {
		feed, ok := feeds[name]
		if !ok {
			return nil, fmt.Errorf("onnx: missing feed for input %q", name)
		}
		if err := feed.Validate(); err != nil {
			return nil, fmt.Errorf("onnx: input %q: %w", name, err)
		}
		t, err := ort.NewTensor(ort.NewShape(feed.Shape...), feed.Data)
		if err != nil {
			return nil, fmt.Errorf("onnx: input %q: %w", name, err)
		}
		in[i] = t
	}

	out := make([]ort.Value, len(s.outputs))
	defer destroyAll(out)
	if err := s.sess.Run(in, out); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}

	result := make(map[string]inference.Tensor, len(s.outputs))
	for i, name := range s.outputs {
		t, ok := out[i].(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("onnx: output %q has unsupported type %T", name, out[i])
		}
		result[name] = inference.Tensor{
			Shape: append([]int64(nil), t.GetShape()...),
			Data:  append([]float32(nil), t.GetData()...),
		}
	}
	return result, nil
}

// Close implements inference.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	if err != nil {
		return fmt.Errorf("onnx: destroy session: %w", err)
	}
	return nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// Ensure Session implements inference.Session at compile time.
var _ inference.Session = (*Session)(nil)
