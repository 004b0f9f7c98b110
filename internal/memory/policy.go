package memory

// Policy holds the tuning constants of the confidence model.
type Policy struct {
	// Concept merge: min(ConceptCap, old*ExistingWeight + new*NewWeight).
	ExistingWeight float64
	NewWeight      float64
	ConceptCap     float64

	// Memory confidence: min(MemoryCap, MemoryBase + total*PerInteraction).
	MemoryBase     float64
	PerInteraction float64
	MemoryCap      float64

	// MaxInteractions bounds the interaction history; the oldest entries are
	// evicted first. Zero keeps everything.
	MaxInteractions int
}

// DefaultPolicy returns the standard constants.
func DefaultPolicy() Policy {
	return Policy{
		ExistingWeight:  0.7,
		NewWeight:       0.3,
		ConceptCap:      0.99,
		MemoryBase:      0.5,
		PerInteraction:  0.01,
		MemoryCap:       0.95,
		MaxInteractions: 1000,
	}
}

func (p Policy) merge(old, incoming float64) float64 {
	return clamp(old*p.ExistingWeight+incoming*p.NewWeight, p.ConceptCap)
}

func (p Policy) memoryConfidence(total int) float64 {
	return clamp(p.MemoryBase+float64(total)*p.PerInteraction, p.MemoryCap)
}

func clamp(v, hi float64) float64 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
