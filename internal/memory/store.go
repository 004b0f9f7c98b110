// Package memory implements the persistent concept memory: a versioned
// document of uniquely keyed concepts with confidences, a bounded interaction
// history, and document-wide counters.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/kgninja/resonance/internal/jsonfile"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultEntity is the descriptor written into a freshly created document.
var DefaultEntity = Entity{
	ID:     "KGNINJA",
	Type:   "individual_creator",
	Origin: "Kyoto, Japan",
}

// Config configures Load.
type Config struct {
	Path   string
	Policy Policy // Use DefaultPolicy() unless tuning.
	Entity Entity // Used only when a new document is created. Default: DefaultEntity.
	Clock  Clock
	Logger *slog.Logger
}

// Store is an in-memory concept document bound to its file. It is not safe
// for concurrent use.
type Store struct {
	path   string
	policy Policy
	clock  Clock
	logger *slog.Logger

	doc       Document
	isNew     bool
	recovered bool
}

// Load reads the document at cfg.Path. A missing file yields a fresh
// document (IsNew reports true). A file that cannot be parsed or fails
// validation is moved aside and replaced by a fresh document (Recovered
// reports true). A document of another version is left untouched and
// ErrUnsupportedVersion is returned.
func Load(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Entity.ID == "" {
		cfg.Entity = DefaultEntity
	}
	s := &Store{
		path:   cfg.Path,
		policy: cfg.Policy,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}

	var doc Document
	found, err := jsonfile.Read(cfg.Path, &doc)
	if err == nil && found {
		if doc.Version == "" {
			doc.Version = CurrentVersion
		}
		if doc.Version != CurrentVersion {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnsupportedVersion, doc.Version, cfg.Path)
		}
		if verr := doc.validate(); verr != nil {
			err = jsonfile.Malformed(cfg.Path, verr)
		}
	}

	switch {
	case err != nil && jsonfile.IsMalformed(err):
		s.logger.Warn("memory document malformed, starting fresh", "path", cfg.Path, "error", err)
		if dst, qerr := jsonfile.Quarantine(cfg.Path, s.clock.Now()); qerr != nil {
			s.logger.Error("could not quarantine memory document", "error", qerr)
		} else {
			s.logger.Warn("quarantined memory document", "moved_to", dst)
		}
		s.doc = s.fresh(cfg.Entity)
		s.recovered = true
	case err != nil:
		return nil, fmt.Errorf("loading memory: %w", err)
	case !found:
		s.doc = s.fresh(cfg.Entity)
		s.isNew = true
	default:
		s.doc = doc
	}
	return s, nil
}

// Read loads the document at path without modifying anything on disk. A
// missing file yields a fresh, zero-dated document; a malformed one yields a
// *jsonfile.MalformedError. Use it for read-only consumers.
func Read(path string) (Document, error) {
	var doc Document
	found, err := jsonfile.Read(path, &doc)
	if err != nil {
		return Document{}, err
	}
	if !found {
		return Document{Version: CurrentVersion, Entity: DefaultEntity}, nil
	}
	if doc.Version == "" {
		doc.Version = CurrentVersion
	}
	if doc.Version != CurrentVersion {
		return Document{}, fmt.Errorf("%w: %q in %s", ErrUnsupportedVersion, doc.Version, path)
	}
	if err := doc.validate(); err != nil {
		return Document{}, jsonfile.Malformed(path, err)
	}
	return doc, nil
}

func (s *Store) fresh(e Entity) Document {
	e.InceptionDate = jsonfile.At(s.clock.Now())
	return Document{
		Version:      CurrentVersion,
		Entity:       e,
		Concepts:     []Concept{},
		Interactions: []Interaction{},
	}
}

// Path returns the file the store saves to.
func (s *Store) Path() string { return s.path }

// IsNew reports whether no document existed on disk at load time.
func (s *Store) IsNew() bool { return s.isNew }

// Recovered reports whether a malformed document was replaced at load time.
func (s *Store) Recovered() bool { return s.recovered }

// Document returns a copy of the current document.
func (s *Store) Document() Document {
	d := s.doc
	d.Concepts = make([]Concept, len(s.doc.Concepts))
	for i, c := range s.doc.Concepts {
		c.Attributes = maps.Clone(c.Attributes)
		d.Concepts[i] = c
	}
	d.Interactions = append([]Interaction(nil), s.doc.Interactions...)
	d.extra = maps.Clone(s.doc.extra)
	return d
}

// Concept returns the concept with the given id.
func (s *Store) Concept(id string) (Concept, bool) { return s.doc.Concept(id) }

// UpsertConcept inserts a concept or replaces an existing one. A new concept
// keeps the given confidence (capped). An existing concept's confidence is
// blended with the new one per the Policy and its attributes are replaced
// wholesale.
func (s *Store) UpsertConcept(id, category string, attributes map[string]any, confidence float64) error {
	if id == "" {
		return errors.New("upserting concept: empty concept id")
	}
	now := s.clock.Now()
	c := Concept{
		ID:          id,
		Category:    category,
		Attributes:  maps.Clone(attributes),
		LastUpdated: jsonfile.At(now),
	}
	if i := s.doc.find(id); i >= 0 {
		c.Confidence = s.policy.merge(s.doc.Concepts[i].Confidence, confidence)
		s.doc.Concepts[i] = c
		s.logger.Debug("updated concept", "concept_id", id, "confidence", c.Confidence)
	} else {
		c.Confidence = clamp(confidence, s.policy.ConceptCap)
		s.doc.Concepts = append(s.doc.Concepts, c)
		s.logger.Debug("new concept", "concept_id", id, "confidence", c.Confidence)
	}
	s.doc.Meta.LastMemoryUpdate = jsonfile.At(now)
	return nil
}

// RecordInteraction appends to the interaction history and recomputes the
// memory confidence. When the history exceeds the Policy limit the oldest
// entries are evicted.
func (s *Store) RecordInteraction(eventType, context, insight string) {
	now := s.clock.Now()
	s.doc.Interactions = append(s.doc.Interactions, Interaction{
		Timestamp: jsonfile.At(now),
		EventType: eventType,
		Context:   context,
		Insight:   insight,
	})
	if limit := s.policy.MaxInteractions; limit > 0 && len(s.doc.Interactions) > limit {
		drop := len(s.doc.Interactions) - limit
		s.doc.Interactions = append([]Interaction(nil), s.doc.Interactions[drop:]...)
		s.doc.Meta.EvictedInteractions += drop
	}
	s.doc.Meta.TotalInteractions++
	s.doc.Meta.MemoryConfidence = s.policy.memoryConfidence(s.doc.Meta.TotalInteractions)
	s.doc.Meta.LastMemoryUpdate = jsonfile.At(now)
}

// Save atomically replaces the document on disk.
func (s *Store) Save() error {
	if err := jsonfile.Write(s.path, s.doc); err != nil {
		return fmt.Errorf("saving memory: %w", err)
	}
	s.isNew = false
	s.recovered = false
	return nil
}
