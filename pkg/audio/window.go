package audio

const (
	// WindowLength is the number of samples fed to the model per inference:
	// 520 ms of audio at [TargetSampleRate].
	WindowLength = 8320

	// HopSize is the stride between consecutive windows. Consecutive windows
	// overlap by exactly half.
	HopSize = WindowLength / 2
)

// Accumulator buffers streaming samples and emits fixed-length overlapping
// windows. The emitted sequence depends only on the concatenation of pushed
// chunks, never on how they were split.
//
// Not safe for concurrent use; each stream owns its own Accumulator.
type Accumulator struct {
	buf    []float32
	length int
	hop    int
}

// NewAccumulator returns an Accumulator using [WindowLength] and [HopSize].
func NewAccumulator() *Accumulator {
	return &Accumulator{length: WindowLength, hop: HopSize}
}

// Push appends chunk to the buffer. The chunk is copied.
func (a *Accumulator) Push(chunk []float32) {
	a.buf = append(a.buf, chunk...)
}

// Next emits the oldest available window and advances the buffer by one hop.
// It reports false when fewer than a full window of samples is buffered.
// The returned slice is owned by the caller.
func (a *Accumulator) Next() ([]float32, bool) {
	if len(a.buf) < a.length {
		return nil, false
	}
	w := make([]float32, a.length)
	copy(w, a.buf[:a.length])

	// Shift in place so the backing array does not grow without bound.
	n := copy(a.buf, a.buf[a.hop:])
	a.buf = a.buf[:n]
	return w, true
}

// PopReady emits every window currently available, oldest first.
func (a *Accumulator) PopReady() [][]float32 {
	var out [][]float32
	for {
		w, ok := a.Next()
		if !ok {
			return out
		}
		out = append(out, w)
	}
}

// Len returns the number of buffered samples.
func (a *Accumulator) Len() int { return len(a.buf) }

// Reset discards all buffered samples.
func (a *Accumulator) Reset() { a.buf = a.buf[:0] }

// Windows splits a complete recording into windows for batch processing.
// Windows start at offsets 0, HopSize, 2*HopSize, ... while the offset is
// strictly less than len(samples)-WindowLength. Trailing samples that do not
// complete a window are dropped, never padded.
//
// The returned windows alias samples.
func Windows(samples []float32) [][]float32 {
	var out [][]float32
	for i := 0; i < len(samples)-WindowLength; i += HopSize {
		out = append(out, samples[i:i+WindowLength:i+WindowLength])
	}
	return out
}
