package onnx

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/visage/pkg/provider/inference"
)

func TestLoader_RequiresInit(t *testing.T) {
	if os.Getenv("VISAGE_ONNX_TEST_MODEL") != "" {
		t.Skip("runtime may already be initialized by the integration test")
	}
	_, err := (&Loader{}).Load(context.Background(), []byte("not a model"), inference.LoadOptions{})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestLoader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Loader{}).Load(ctx, nil, inference.LoadOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSession_ClosedRejectsRun(t *testing.T) {
	s := &Session{inputs: []string{"audio"}, outputs: []string{"blendshapes"}}
	if err := s.Close(); err != nil {
		t.Fatalf("Close on an empty session: %v", err)
	}
	_, err := s.Run(context.Background(), map[string]inference.Tensor{})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

// TestLoader_Integration runs a real model when both the shared library and a
// model file are provided through the environment.
func TestLoader_Integration(t *testing.T) {
	lib := os.Getenv("VISAGE_ONNX_LIBRARY")
	modelPath := os.Getenv("VISAGE_ONNX_TEST_MODEL")
	if lib == "" || modelPath == "" {
		t.Skip("set VISAGE_ONNX_LIBRARY and VISAGE_ONNX_TEST_MODEL to run")
	}
	model, err := os.ReadFile(modelPath)
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	if err := Init(lib); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = Shutdown() })

	sess, err := (&Loader{}).Load(context.Background(), model, inference.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer sess.Close()
	if len(sess.InputNames()) == 0 || len(sess.OutputNames()) == 0 {
		t.Errorf("model declares inputs %v and outputs %v", sess.InputNames(), sess.OutputNames())
	}
}
