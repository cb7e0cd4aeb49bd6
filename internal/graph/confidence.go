package graph

// Reinforce folds one more observation of the given evidence weight into an
// existing confidence. Repeated observations approach 1 with diminishing returns.
func Reinforce(old, weight float64) float64 {
	return clampConfidence(1 - (1-clampConfidence(old))*(1-clampConfidence(weight)))
}

// Decay scales a confidence by factor, never below zero.
func Decay(conf, factor float64) float64 {
	return clampConfidence(conf * clampConfidence(factor))
}

func clampConfidence(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func validConfidence(p float64) bool {
	return p >= 0 && p <= 1
}
