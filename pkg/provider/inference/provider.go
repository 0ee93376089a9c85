// Package inference defines the Session and Loader interfaces for neural
// inference backends.
//
// A Session wraps one loaded model graph. It declares the names of its input
// and output tensors and maps a named set of input tensors to a named set of
// output tensors. Nothing in the animation pipeline depends on how the graph
// is executed: ONNX Runtime on CPU, CUDA, CoreML or a test double all look the
// same from the caller's side.
//
// A Loader turns serialized model bytes into a Session. Execution-provider
// selection is expressed as a preference in [LoadOptions]; [LoadWithFallback]
// layers the "accelerated first, CPU second" policy on top of any Loader.
//
// Sessions are owned by exactly one pipeline. Implementations are not required
// to support concurrent Run calls on the same Session.
package inference

import "context"

// Session is a loaded model ready to run inference.
type Session interface {
	// InputNames returns the declared input tensor names in model order. The
	// returned slice must not be modified.
	InputNames() []string

	// OutputNames returns the declared output tensor names in model order. The
	// returned slice must not be modified.
	OutputNames() []string

	// Run executes the model once. feeds maps declared input names to tensors;
	// the result maps declared output names to tensors. Implementations should
	// return an output for every declared name, but callers must tolerate
	// missing entries.
	//
	// Run blocks until the engine finishes or ctx is cancelled, if the backend
	// supports cancellation. Engine failures are returned unchanged so callers
	// can wrap them with window context.
	Run(ctx context.Context, feeds map[string]Tensor) (map[string]Tensor, error)

	// Close releases engine resources. Calling Close more than once is safe
	// and returns nil. Run must not be called after Close.
	Close() error
}

// Loader builds Sessions from serialized model bytes.
//
// Implementations must be safe for concurrent use: several streams may load
// independent sessions from the same model at the same time.
type Loader interface {
	// Load parses model and prepares it for execution according to opts.
	// An error means no Session was created and nothing needs to be closed.
	Load(ctx context.Context, model []byte, opts LoadOptions) (Session, error)
}
