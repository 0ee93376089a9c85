// Package onnx implements inference.Loader on top of ONNX Runtime via
// github.com/yalue/onnxruntime_go.
//
// The ONNX Runtime shared library is loaded once per process with [Init] and
// released with [Shutdown]. Sessions are created from in-memory model bytes,
// so the same model file can back any number of independent sessions.
//
// Execution providers: CUDA on Linux hosts with an NVIDIA device, CoreML on
// macOS, CPU otherwise. The accelerated → CPU retry lives in
// inference.LoadWithFallback, not here; this Loader fails fast when the
// requested provider cannot be attached.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/visage/pkg/provider/inference"
)

// ErrNotInitialized is returned by Load before [Init] succeeded.
var ErrNotInitialized = errors.New("onnx: runtime environment not initialized")

var envMu sync.Mutex

// Init loads the ONNX Runtime shared library and creates the process-wide
// environment. An empty libraryPath uses the platform default lookup. Calling
// Init again after success is a no-op.
func Init(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx: initialize environment: %w", err)
	}
	slog.Debug("onnx runtime initialized", "library", libraryPath)
	return nil
}

// Shutdown destroys the process-wide environment. All sessions must be closed
// first.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("onnx: destroy environment: %w", err)
	}
	return nil
}

// Loader creates ONNX Runtime sessions. The zero value is ready to use.
type Loader struct {
	// HasNvidiaGPU overrides GPU detection for [inference.ProviderAuto].
	// Nil uses [HasNvidiaGPU].
	HasNvidiaGPU func() bool
}

// Load implements inference.Loader.
func (l *Loader) Load(ctx context.Context, model []byte, opts inference.LoadOptions) (inference.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ort.IsInitialized() {
		return nil, ErrNotInitialized
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model io info: %w", err)
	}
	inNames := make([]string, len(inputs))
	for i, info := range inputs {
		inNames[i] = info.Name
	}
	outNames := make([]string, len(outputs))
	for i, info := range outputs {
		outNames[i] = info.Name
	}

	detect := l.HasNvidiaGPU
	if detect == nil {
		detect = HasNvidiaGPU
	}
	provider := opts.ResolveProvider(detect)

	so, err := newSessionOptions(provider, opts.NumThreads)
	if err != nil {
		return nil, err
	}
	defer so.Destroy()

	sess, err := ort.NewDynamicAdvancedSessionWithONNXData(model, inNames, outNames, so)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session (%s): %w", provider, err)
	}

	slog.Info("onnx session created",
		"provider", provider,
		"inputs", inNames,
		"outputs", outNames,
	)
	return &Session{
		sess:     sess,
		inputs:   inNames,
		outputs:  outNames,
		provider: provider,
	}, nil
}

// newSessionOptions builds options for provider. The caller destroys them.
func newSessionOptions(provider inference.ExecutionProvider, threads int) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	if threads > 0 {
		if err := so.SetIntraOpNumThreads(threads); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("onnx: set intra-op threads: %w", err)
		}
	}

	switch provider {
	case inference.ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			so.Destroy()
			return nil, fmt.Errorf("onnx: cuda provider options: %w", err)
		}
		defer cuda.Destroy()
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("onnx: append cuda provider: %w", err)
		}
	case inference.ProviderCoreML:
		if err := so.AppendExecutionProviderCoreML(0); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("onnx: append coreml provider: %w", err)
		}
	}
	return so, nil
}

// Ensure Loader implements inference.Loader at compile time.
var _ inference.Loader = (*Loader)(nil)
