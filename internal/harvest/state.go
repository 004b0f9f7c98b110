package harvest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kgninja/resonance/internal/extract"
	"github.com/kgninja/resonance/internal/jsonfile"
)

// MaxHistory is how many harvest records State keeps.
const MaxHistory = 30

// sampleSize is how many new keywords a Record keeps.
const sampleSize = 10

// Record summarises one harvest run.
type Record struct {
	Timestamp        jsonfile.Time `json:"timestamp"`
	PostsProcessed   int           `json:"posts_processed"`
	NewKeywordsCount int           `json:"new_keywords_count"`
	NewKeywords      []string      `json:"new_keywords"`
}

// State is the persisted vocabulary harvested so far. Keywords keep
// insertion order; hashtags are stored without their '#'.
type State struct {
	Keywords            []string      `json:"keywords"`
	Hashtags            []string      `json:"hashtags"`
	LastHarvest         jsonfile.Time `json:"last_harvest"`
	TotalPostsProcessed int           `json:"total_posts_processed"`
	History             []Record      `json:"harvest_history"`

	extra jsonfile.Extra
}

var stateFields = []string{"keywords", "hashtags", "last_harvest", "total_posts_processed", "harvest_history"}

type stateJSON State

func (s State) MarshalJSON() ([]byte, error) {
	if s.Keywords == nil {
		s.Keywords = []string{}
	}
	if s.Hashtags == nil {
		s.Hashtags = []string{}
	}
	if s.History == nil {
		s.History = []Record{}
	}
	data, err := json.Marshal(stateJSON(s))
	if err != nil {
		return nil, err
	}
	return jsonfile.AppendExtra(data, s.extra)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra, err := jsonfile.SplitExtra(data, stateFields...)
	if err != nil {
		return err
	}
	*s = State(raw)
	s.extra = extra
	return nil
}

// ReadState loads the state document. A missing file yields an empty State.
// A file that cannot be used yields a *jsonfile.MalformedError.
func ReadState(path string) (State, error) {
	var s State
	found, err := jsonfile.Read(path, &s)
	if err != nil {
		return State{}, err
	}
	if !found {
		return State{}, nil
	}
	if s.TotalPostsProcessed < 0 {
		return State{}, jsonfile.Malformed(path, errors.New("negative total_posts_processed"))
	}
	return s, nil
}

// SaveState atomically replaces the state document.
func SaveState(path string, s State) error {
	if err := jsonfile.Write(path, s); err != nil {
		return fmt.Errorf("saving harvest state: %w", err)
	}
	return nil
}

// Vocabulary returns the known keywords as a case-insensitive set.
func (s *State) Vocabulary() extract.Vocabulary {
	return extract.NewVocabulary(s.Keywords...)
}

// AddKeywords appends the words not already known (case-insensitively) and
// returns them in order.
func (s *State) AddKeywords(words []string) []string {
	known := s.Vocabulary()
	var added []string
	for _, w := range words {
		if known.Contains(w) {
			continue
		}
		known.Add(w)
		s.Keywords = append(s.Keywords, w)
		added = append(added, w)
	}
	return added
}

// AddHashtags records tags, with or without their '#', that are not already
// present.
func (s *State) AddHashtags(tags []string) {
	known := extract.NewVocabulary(s.Hashtags...)
	for _, t := range tags {
		t = strings.TrimPrefix(t, "#")
		if t == "" || known.Contains(t) {
			continue
		}
		known.Add(t)
		s.Hashtags = append(s.Hashtags, t)
	}
}

// AppendRecord adds r to the history, evicting the oldest records beyond
// limit. A limit of zero or less means MaxHistory.
func (s *State) AppendRecord(r Record, limit int) {
	if limit <= 0 {
		limit = MaxHistory
	}
	if len(r.NewKeywords) > sampleSize {
		r.NewKeywords = append([]string(nil), r.NewKeywords[:sampleSize]...)
	}
	s.History = append(s.History, r)
	if over := len(s.History) - limit; over > 0 {
		s.History = append([]Record(nil), s.History[over:]...)
	}
}

// lastDistinct returns up to n distinct values from the end of values, in
// their original order.
func lastDistinct(values []string, n int) []string {
	seen := make(map[string]bool, len(values))
	var rev []string
	for i := len(values) - 1; i >= 0 && len(rev) < n; i-- {
		if seen[values[i]] {
			continue
		}
		seen[values[i]] = true
		rev = append(rev, values[i])
	}
	out := make([]string, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

// distinctCount counts distinct values.
func distinctCount(values []string) int {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		seen[v] = true
	}
	return len(seen)
}
