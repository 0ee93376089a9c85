package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/visage/pkg/audio"
)

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(i) * 0.01))
	}
	return out
}

func TestStreamResampler_MatchesOneShot(t *testing.T) {
	tests := []struct {
		name   string
		from   int
		pieces []int
	}{
		{"48k in device periods", 48000, []int{1536, 1536, 1536, 1536, 1536}},
		{"44.1k in device periods", 44100, []int{1411, 1411, 1412, 1411, 1411, 1411}},
		{"44.1k in uneven pieces", 44100, []int{1, 7, 300, 2, 999, 1000, 13}},
		{"22.05k in odd pieces", 22050, []int{705, 706, 705, 3}},
		{"8k upsampled", 8000, []int{256, 256, 1, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := 0
			for _, n := range tt.pieces {
				total += n
			}
			src := ramp(total)
			want := audio.Resample(src, tt.from, audio.TargetSampleRate)

			r, err := audio.NewStreamResampler(tt.from, audio.TargetSampleRate)
			if err != nil {
				t.Fatalf("NewStreamResampler: %v", err)
			}
			var got []float32
			off := 0
			for _, n := range tt.pieces {
				got = append(got, r.Process(src[off:off+n])...)
				off += n
			}
			got = append(got, r.Flush()...)

			if len(got) != len(want) {
				t.Fatalf("len = %d, want %d", len(got), len(want))
			}
			for i := range want {
				if !approx(got[i], want[i]) {
					t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestStreamResampler_NoDriftWithoutFlush(t *testing.T) {
	r, err := audio.NewStreamResampler(44100, audio.TargetSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	// One second of 32 ms periods. Resampling each period on its own would
	// lose a fractional sample per period.
	var n int
	for range 1000 / 32 {
		n += len(r.Process(make([]float32, 1411)))
	}
	in := (1000 / 32) * 1411
	want := in * audio.TargetSampleRate / 44100
	if n < want-2 || n > want {
		t.Errorf("produced %d samples for %d input, want about %d", n, in, want)
	}
}

func TestStreamResampler_SameRate(t *testing.T) {
	r, err := audio.NewStreamResampler(16000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	in := []float32{1, 2, 3}
	if out := r.Process(in); &out[0] != &in[0] {
		t.Error("equal rates should return the input slice")
	}
	if out := r.Flush(); out != nil {
		t.Errorf("Flush = %v, want nil", out)
	}
}

func TestStreamResampler_InvalidRates(t *testing.T) {
	for _, rates := range [][2]int{{0, 16000}, {16000, 0}, {-8000, 16000}} {
		if _, err := audio.NewStreamResampler(rates[0], rates[1]); err == nil {
			t.Errorf("rates %v: expected error", rates)
		}
	}
}

func TestStreamResampler_Reset(t *testing.T) {
	r, err := audio.NewStreamResampler(48000, audio.TargetSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	src := ramp(4800)
	first := r.Process(src)
	r.Reset()
	second := r.Process(src)
	if len(first) != len(second) {
		t.Fatalf("len after Reset = %d, want %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs after Reset", i)
		}
	}
}
