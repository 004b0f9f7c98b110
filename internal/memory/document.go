package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/kgninja/resonance/internal/jsonfile"
)

// CurrentVersion is the only document version this package reads and writes.
const CurrentVersion = "1.0"

// ErrUnsupportedVersion is returned by Load for a document written by a newer
// (or unknown) format. Such a document is never overwritten.
var ErrUnsupportedVersion = errors.New("unsupported memory document version")

// Entity describes who the memory is about.
type Entity struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Origin        string        `json:"origin"`
	InceptionDate jsonfile.Time `json:"inception_date"`
}

// Concept is one named belief with a confidence. Attributes are replaced
// wholesale on every update.
type Concept struct {
	ID          string         `json:"concept_id"`
	Category    string         `json:"category"`
	Attributes  map[string]any `json:"attributes"`
	Confidence  float64        `json:"confidence"`
	LastUpdated jsonfile.Time  `json:"last_updated"`
}

// Interaction is one entry of the interaction history.
type Interaction struct {
	Timestamp jsonfile.Time `json:"timestamp"`
	EventType string        `json:"event_type"`
	Context   string        `json:"context"`
	Insight   string        `json:"insight"`
}

// Meta holds document-wide counters.
type Meta struct {
	TotalInteractions int           `json:"total_interactions"`
	MemoryConfidence  float64       `json:"memory_confidence"`
	LastMemoryUpdate  jsonfile.Time `json:"last_memory_update"`
	// EvictedInteractions counts history entries dropped by the retention
	// limit. TotalInteractions keeps counting them.
	EvictedInteractions int `json:"evicted_interactions,omitempty"`
}

// Document is the persisted concept memory.
type Document struct {
	Version      string        `json:"version"`
	Entity       Entity        `json:"entity"`
	Concepts     []Concept     `json:"concepts"`
	Interactions []Interaction `json:"interaction_history"`
	Meta         Meta          `json:"meta"`

	extra jsonfile.Extra
}

var documentFields = []string{"version", "entity", "concepts", "interaction_history", "meta"}

type documentJSON Document

func (d Document) MarshalJSON() ([]byte, error) {
	if d.Concepts == nil {
		d.Concepts = []Concept{}
	}
	if d.Interactions == nil {
		d.Interactions = []Interaction{}
	}
	data, err := json.Marshal(documentJSON(d))
	if err != nil {
		return nil, err
	}
	return jsonfile.AppendExtra(data, d.extra)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra, err := jsonfile.SplitExtra(data, documentFields...)
	if err != nil {
		return err
	}
	*d = Document(raw)
	d.extra = extra
	return nil
}

// validate checks the invariants a loaded document must satisfy.
func (d *Document) validate() error {
	seen := make(map[string]bool, len(d.Concepts))
	for i, c := range d.Concepts {
		if c.ID == "" {
			return fmt.Errorf("concept %d has no concept_id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate concept_id %q", c.ID)
		}
		seen[c.ID] = true
		if c.Confidence < 0 || c.Confidence > 1 {
			return fmt.Errorf("concept %q confidence %v out of range", c.ID, c.Confidence)
		}
	}
	if d.Meta.TotalInteractions < 0 {
		return fmt.Errorf("negative total_interactions")
	}
	if d.Meta.MemoryConfidence < 0 || d.Meta.MemoryConfidence > 1 {
		return fmt.Errorf("memory_confidence %v out of range", d.Meta.MemoryConfidence)
	}
	return nil
}

// Concept returns the concept with the given id.
func (d Document) Concept(id string) (Concept, bool) {
	i := d.find(id)
	if i < 0 {
		return Concept{}, false
	}
	c := d.Concepts[i]
	c.Attributes = maps.Clone(c.Attributes)
	return c, true
}

func (d *Document) find(id string) int {
	for i := range d.Concepts {
		if d.Concepts[i].ID == id {
			return i
		}
	}
	return -1
}
