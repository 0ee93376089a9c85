package face_test

import (
	"testing"

	"github.com/MrWong99/visage/pkg/face"
)

func TestAggregateFrames_Empty(t *testing.T) {
	t.Parallel()
	agg := face.AggregateFrames(nil)
	if agg.FrameCount != 0 {
		t.Errorf("FrameCount = %d, want 0", agg.FrameCount)
	}
	if len(agg.Blendshapes) != face.NumBlendshapes {
		t.Fatalf("got %d blendshapes, want %d", len(agg.Blendshapes), face.NumBlendshapes)
	}
	for i, b := range agg.Blendshapes {
		if b.Value != 0 || b.Name != face.BlendshapeName(i) {
			t.Errorf("blendshape %d = %+v, want zero named %q", i, b, face.BlendshapeName(i))
		}
	}
	if agg.Jaw != 0 || agg.Eyes != nil {
		t.Errorf("jaw = %v, eyes = %v, want 0 and nil", agg.Jaw, agg.Eyes)
	}
}

func TestAggregateFrames_Identical(t *testing.T) {
	t.Parallel()
	f := frameOf(0.35, 0.1, 0.2, 0.3)
	agg := face.AggregateFrames([]face.Frame{f, f, f, f})
	if agg.FrameCount != 4 {
		t.Errorf("FrameCount = %d, want 4", agg.FrameCount)
	}
	for i := range f.Blendshapes {
		if agg.Blendshapes[i] != f.Blendshapes[i] {
			t.Errorf("blendshape %d = %+v, want %+v", i, agg.Blendshapes[i], f.Blendshapes[i])
		}
	}
	if agg.Jaw != 0.35 {
		t.Errorf("jaw = %v, want 0.35", agg.Jaw)
	}
}

func TestAggregateFrames_MeanAndLastGaze(t *testing.T) {
	t.Parallel()
	a := frameOf(0.2, 0, 1)
	a.Eyes = &face.EyeGaze{LeftX: 1}
	b := frameOf(0.6, 1, 0)
	b.Eyes = &face.EyeGaze{LeftX: -1, RightY: 0.5}

	agg := face.AggregateFrames([]face.Frame{a, b})
	if !near(agg.Blendshapes[0].Value, 0.5) || !near(agg.Blendshapes[1].Value, 0.5) {
		t.Errorf("weights = %v, want [0.5 0.5]", agg.Blendshapes.Values())
	}
	if !near(agg.Jaw, 0.4) {
		t.Errorf("jaw = %v, want 0.4", agg.Jaw)
	}
	if agg.Eyes == nil || *agg.Eyes != *b.Eyes {
		t.Errorf("eyes = %+v, want last frame's %+v", agg.Eyes, b.Eyes)
	}
	b.Eyes.LeftX = 9
	if agg.Eyes.LeftX == 9 {
		t.Error("aggregate gaze aliases the input frame")
	}
}

func TestAggregateFrames_LastFrameWithoutGaze(t *testing.T) {
	t.Parallel()
	a := frameOf(0, 0)
	a.Eyes = &face.EyeGaze{LeftX: 1}
	b := frameOf(0, 0)
	if agg := face.AggregateFrames([]face.Frame{a, b}); agg.Eyes != nil {
		t.Errorf("eyes = %+v, want nil from the last frame", agg.Eyes)
	}
}
