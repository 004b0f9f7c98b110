package memory

import "fmt"

// Pulse concept and event names.
const (
	PresenceConceptID  = "kg_digital_presence"
	PresenceCategory   = "visibility_status"
	PulseEventType     = "visibility_pulse"
	presenceConfidence = 0.95
)

// GrowthStage maps a search-result count to a coarse visibility stage.
func GrowthStage(count int) string {
	switch {
	case count <= 0:
		return "Initial visibility establishment phase"
	case count < 100:
		return "Early growth phase - building recognition"
	case count < 1000:
		return "Acceleration phase - visibility expanding"
	case count < 10000:
		return "Established presence - sustained visibility"
	default:
		return "Dominant presence - widespread recognition"
	}
}

// RecordPulse records one visibility measurement: an interaction carrying
// the growth stage, and an update of the digital presence concept. count is
// the result count for the entity's own name; keywords are every keyword
// that was measured.
func (s *Store) RecordPulse(count int, keywords []string) (string, error) {
	if count < 0 {
		return "", fmt.Errorf("recording pulse: negative result count %d", count)
	}
	stage := GrowthStage(count)
	s.RecordInteraction(PulseEventType, "Daily visibility tracking completed", stage)

	tracked := append([]string{}, keywords...)
	score := float64(count) / 100
	if score > 100 {
		score = 100
	}
	err := s.UpsertConcept(PresenceConceptID, PresenceCategory, map[string]any{
		"kgninja_ai_results": count,
		"growth_stage":       stage,
		"tracked_keywords":   tracked,
		"visibility_score":   score,
	}, presenceConfidence)
	return stage, err
}
