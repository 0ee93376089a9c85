package face

// AggregateFrames reduces a recording's frames to one summary. Weights and
// jaw are arithmetic means; gaze is taken from the last frame. The number and
// names of weights follow the first frame; a shorter later frame contributes
// zero for its missing positions.
//
// An empty input yields [EmptyAggregate].
func AggregateFrames(frames []Frame) Aggregate {
	if len(frames) == 0 {
		return EmptyAggregate()
	}

	n := len(frames[0].Blendshapes)
	sums := make([]float64, n)
	var jaw float64
	for _, f := range frames {
		for i := 0; i < n && i < len(f.Blendshapes); i++ {
			sums[i] += float64(f.Blendshapes[i].Value)
		}
		jaw += float64(f.Jaw)
	}

	count := float64(len(frames))
	out := Aggregate{
		Blendshapes: make(Blendshapes, n),
		Jaw:         float32(jaw / count),
		FrameCount:  len(frames),
	}
	for i := range n {
		out.Blendshapes[i] = Blendshape{
			Name:  frames[0].Blendshapes[i].Name,
			Value: float32(sums[i] / count),
		}
	}
	if last := frames[len(frames)-1].Eyes; last != nil {
		eyes := *last
		out.Eyes = &eyes
	}
	return out
}
