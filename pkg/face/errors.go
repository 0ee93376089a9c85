package face

import (
	"errors"
	"fmt"
)

var (
	// ErrNotBound is returned when a pipeline is asked to process audio
	// before an inference session was bound, or after Dispose.
	ErrNotBound = errors.New("face: no inference session bound")

	// ErrUnsupportedSource is returned for audio input the pipeline cannot
	// interpret, such as a non-positive sample rate. Boundary code wraps its
	// own input rejections with it.
	ErrUnsupportedSource = errors.New("face: unsupported input source")
)

// InferenceError reports an engine failure while processing one window. It
// wraps the engine error unchanged. Failed windows are never retried.
type InferenceError struct {
	// Window is the zero-based index of the failing window within the
	// current call.
	Window int

	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("face: inference failed on window %d: %v", e.Window, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsInferenceFailure reports whether err is or wraps an [*InferenceError].
func IsInferenceFailure(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie)
}
