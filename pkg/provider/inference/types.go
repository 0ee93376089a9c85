package inference

import (
	"errors"
	"fmt"
	"math"
	"runtime"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	// Shape lists the dimension sizes, outermost first.
	Shape []int64

	// Data holds the elements. len(Data) equals the product of Shape.
	Data []float32
}

// NewTensor returns a Tensor with the given shape and data. It does not copy
// data.
func NewTensor(data []float32, shape ...int64) Tensor {
	return Tensor{Shape: shape, Data: data}
}

// MaxElements bounds the element count of a [Tensor].
const MaxElements = math.MaxInt32

// ErrInvalidShape is returned by [Tensor.Validate] for shapes with a negative
// dimension or more than [MaxElements] elements.
var ErrInvalidShape = errors.New("inference: invalid tensor shape")

// Zeros returns a zero-filled Tensor of the given shape. An invalid shape
// yields a tensor without data that fails [Tensor.Validate].
func Zeros(shape ...int64) Tensor {
	n := Elements(shape)
	if n < 0 {
		return Tensor{Shape: shape}
	}
	return Tensor{Shape: shape, Data: make([]float32, n)}
}

// Elements returns the number of elements described by shape, or -1 when a
// dimension is negative or the product exceeds [MaxElements].
func Elements(shape []int64) int {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return -1
		}
		if d != 0 && n > MaxElements/d {
			return -1
		}
		n *= d
	}
	return int(n)
}

// Validate reports an error when the shape is invalid or the element count
// does not match it.
func (t Tensor) Validate() error {
	want := Elements(t.Shape)
	if want < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidShape, t.Shape)
	}
	if want != len(t.Data) {
		return fmt.Errorf("inference: tensor shape %v needs %d elements, got %d", t.Shape, want, len(t.Data))
	}
	return nil
}

// ExecutionProvider names a hardware backend for model execution.
type ExecutionProvider string

const (
	// ProviderAuto picks the best accelerator detected on this host.
	ProviderAuto ExecutionProvider = "auto"

	// ProviderCPU runs on the CPU only.
	ProviderCPU ExecutionProvider = "cpu"

	// ProviderCUDA runs on an NVIDIA GPU.
	ProviderCUDA ExecutionProvider = "cuda"

	// ProviderCoreML runs on Apple's Neural Engine / GPU.
	ProviderCoreML ExecutionProvider = "coreml"
)

// IsValid reports whether p is a recognised execution provider.
func (p ExecutionProvider) IsValid() bool {
	switch p {
	case ProviderAuto, ProviderCPU, ProviderCUDA, ProviderCoreML:
		return true
	}
	return false
}

// LoadOptions controls how a Loader prepares a Session.
type LoadOptions struct {
	// PreferAccelerated asks for a hardware-accelerated execution provider.
	// When false the session runs on the CPU regardless of Provider.
	PreferAccelerated bool

	// Provider selects the accelerator when PreferAccelerated is set. Empty
	// or [ProviderAuto] means detect.
	Provider ExecutionProvider

	// NumThreads bounds intra-op parallelism. Zero leaves the engine default.
	NumThreads int
}

// CPUOnly returns a copy of o that disables acceleration.
func (o LoadOptions) CPUOnly() LoadOptions {
	o.PreferAccelerated = false
	o.Provider = ProviderCPU
	return o
}

// ResolveProvider returns the execution provider o actually asks for. Auto
// detection uses hasNvidiaGPU on Linux and CoreML on macOS.
func (o LoadOptions) ResolveProvider(hasNvidiaGPU func() bool) ExecutionProvider {
	if !o.PreferAccelerated || o.Provider == ProviderCPU {
		return ProviderCPU
	}
	if o.Provider != "" && o.Provider != ProviderAuto {
		return o.Provider
	}
	switch runtime.GOOS {
	case "darwin":
		return ProviderCoreML
	case "linux":
		if hasNvidiaGPU != nil && hasNvidiaGPU() {
			return ProviderCUDA
		}
	}
	return ProviderCPU
}
