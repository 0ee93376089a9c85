// Package mock provides test doubles for the inference package interfaces.
//
// Use Session to script model outputs and inspect the feeds that were
// submitted. Use Loader to verify the LoadOptions a caller asked for and to
// simulate accelerated load failures.
//
// Example:
//
//	sess := &mock.Session{
//	    Inputs:  []string{"audio"},
//	    Outputs: []string{"blendshapes"},
//	    Result:  map[string]inference.Tensor{"blendshapes": inference.Zeros(1, 52)},
//	}
//	frame, err := face.NewAdapter(sess).Infer(ctx, window)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/visage/pkg/provider/inference"
)

// RunCall records a single invocation of Session.Run.
type RunCall struct {
	// Feeds is a deep copy of the feeds passed to Run.
	Feeds map[string]inference.Tensor
}

// Session is a mock implementation of inference.Session.
type Session struct {
	mu sync.Mutex

	// Inputs is returned by InputNames.
	Inputs []string

	// Outputs is returned by OutputNames.
	Outputs []string

	// Result is returned by every Run call unless RunFunc is set.
	Result map[string]inference.Tensor

	// RunFunc, if non-nil, computes the Run result from the feeds. It takes
	// precedence over Result and RunErr.
	RunFunc func(feeds map[string]inference.Tensor) (map[string]inference.Tensor, error)

	// RunErr, if non-nil, is returned by every Run call.
	RunErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// RunCalls records every call to Run in order.
	RunCalls []RunCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// InputNames returns Inputs.
func (s *Session) InputNames() []string { return s.Inputs }

// OutputNames returns Outputs.
func (s *Session) OutputNames() []string { return s.Outputs }

// Run records the call and returns the scripted result.
func (s *Session) Run(_ context.Context, feeds map[string]inference.Tensor) (map[string]inference.Tensor, error) {
	s.mu.Lock()
	cp := make(map[string]inference.Tensor, len(feeds))
	for name, t := range feeds {
		cp[name] = inference.Tensor{
			Shape: append([]int64(nil), t.Shape...),
			Data:  append([]float32(nil), t.Data...),
		}
	}
	s.RunCalls = append(s.RunCalls, RunCall{Feeds: cp})
	fn, result, err := s.RunFunc, s.Result, s.RunErr
	s.mu.Unlock()

	if fn != nil {
		return fn(feeds)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Calls returns a snapshot of the recorded Run calls. Thread-safe.
func (s *Session) Calls() []RunCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunCall(nil), s.RunCalls...)
}

// Closed reports whether Close was called at least once. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

// Ensure Session implements inference.Session at compile time.
var _ inference.Session = (*Session)(nil)

// LoadCall records a single invocation of Loader.Load.
type LoadCall struct {
	// ModelSize is len(model) at call time.
	ModelSize int

	// Opts is the LoadOptions passed to Load.
	Opts inference.LoadOptions
}

// Loader is a mock implementation of inference.Loader.
type Loader struct {
	mu sync.Mutex

	// Session is returned by successful Load calls. If nil, a new empty
	// Session is returned.
	Session inference.Session

	// NewSession, if non-nil, builds the Session for each successful Load.
	// It takes precedence over Session.
	NewSession func() inference.Session

	// AcceleratedErr, if non-nil, is returned by Load calls whose options
	// have PreferAccelerated set.
	AcceleratedErr error

	// LoadErr, if non-nil, is returned by every Load call that did not
	// already fail with AcceleratedErr.
	LoadErr error

	// LoadCalls records every call to Load in order.
	LoadCalls []LoadCall
}

// Load records the call and returns the configured session or error.
func (l *Loader) Load(_ context.Context, model []byte, opts inference.LoadOptions) (inference.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.LoadCalls = append(l.LoadCalls, LoadCall{ModelSize: len(model), Opts: opts})
	if opts.PreferAccelerated && l.AcceleratedErr != nil {
		return nil, l.AcceleratedErr
	}
	if l.LoadErr != nil {
		return nil, l.LoadErr
	}
	if l.NewSession != nil {
		return l.NewSession(), nil
	}
	if l.Session != nil {
		return l.Session, nil
	}
	return &Session{}, nil
}

// Calls returns a snapshot of the recorded Load calls. Thread-safe.
func (l *Loader) Calls() []LoadCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LoadCall(nil), l.LoadCalls...)
}

// Ensure Loader implements inference.Loader at compile time.
var _ inference.Loader = (*Loader)(nil)
