// Package extract turns raw post text into candidate keywords and filters
// them against exclusion, priority and already-known vocabularies.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/kgninja/resonance/internal/source"
)

// Kind classifies how a token was recognised.
type Kind int

const (
	Hashtag Kind = iota + 1
	ProperNoun
	ScriptRun
)

func (k Kind) String() string {
	switch k {
	case Hashtag:
		return "hashtag"
	case ProperNoun:
		return "proper_noun"
	case ScriptRun:
		return "script_run"
	default:
		return "unknown"
	}
}

// Token is one candidate keyword. Hashtag text keeps its leading '#'.
type Token struct {
	Text string
	Kind Kind
}

// Bare returns the token text without a hashtag marker.
func (t Token) Bare() string {
	if t.Kind == Hashtag {
		return strings.TrimPrefix(t.Text, "#")
	}
	return t.Text
}

var (
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	tagPattern    = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	wordPattern   = regexp.MustCompile(`[\p{Latin}\p{N}_]+`)
	nounPattern   = regexp.MustCompile(`^[A-Z][a-zA-Z]*$`)
	scriptPattern = regexp.MustCompile(`[ァ-ヶー]+|[一-龯]+`)
)

// sentenceStarters are capitalised words too common to be names.
var sentenceStarters = NewVocabulary("This", "That", "From", "With", "Have", "Will", "Been")

// Rune length bounds, inclusive.
const (
	minTagLen, maxTagLen       = 2, 29 // excluding '#'
	minNounLen, maxNounLen     = 4, 29
	minScriptLen, maxScriptLen = 2, 19
	minKeepLen, maxKeepLen     = 3, 30
)

// Extract returns the candidate tokens found in items, deduplicated
// case-insensitively in first-seen order. Each item contributes its tags,
// then its proper nouns, then its script runs.
func Extract(items []source.RawItem) []Token {
	seen := NewVocabulary()
	var out []Token
	for _, it := range items {
		for _, tok := range ExtractText(it.Title + "\n" + it.Body) {
			if seen.Contains(tok.Text) {
				continue
			}
			seen.Add(tok.Text)
			out = append(out, tok)
		}
	}
	return out
}

// ExtractText applies the extraction rules to a single piece of text. The
// result may contain duplicates.
func ExtractText(text string) []Token {
	text = urlPattern.ReplaceAllString(text, " ")

	var out []Token
	for _, m := range tagPattern.FindAllString(text, -1) {
		if n := utf8.RuneCountInString(m) - 1; n >= minTagLen && n <= maxTagLen {
			out = append(out, Token{Text: m, Kind: Hashtag})
		}
	}
	// A proper noun is a whole Latin word; "Renée" is not cut down to "Ren".
	for _, m := range wordPattern.FindAllString(text, -1) {
		if !nounPattern.MatchString(m) {
			continue
		}
		if n := len(m); n < minNounLen || n > maxNounLen || sentenceStarters.Contains(m) {
			continue
		}
		out = append(out, Token{Text: m, Kind: ProperNoun})
	}
	for _, m := range scriptPattern.FindAllString(text, -1) {
		if n := utf8.RuneCountInString(m); n >= minScriptLen && n <= maxScriptLen {
			out = append(out, Token{Text: m, Kind: ScriptRun})
		}
	}
	return out
}

// Filter reduces tokens to the keywords worth keeping. Rules are applied in
// order and the first one that matches decides:
//
//  1. drop anything in exclude
//  2. keep anything in priority
//  3. keep hashtags
//  4. drop anything already in known
//  5. keep if the length is within [3,30] runes
//
// Comparisons use Unicode case folding. The result is deduplicated in
// first-seen order.
func Filter(tokens []Token, known, exclude, priority Vocabulary) []string {
	emitted := NewVocabulary()
	var out []string
	for _, tok := range tokens {
		if !keep(tok, known, exclude, priority) || emitted.Contains(tok.Text) {
			continue
		}
		emitted.Add(tok.Text)
		out = append(out, tok.Text)
	}
	return out
}

func keep(tok Token, known, exclude, priority Vocabulary) bool {
	bare := tok.Bare()
	switch {
	case exclude.Contains(tok.Text) || exclude.Contains(bare):
		return false
	case priority.Contains(tok.Text) || priority.Contains(bare):
		return true
	case tok.Kind == Hashtag:
		return true
	case known.Contains(tok.Text):
		return false
	}
	n := utf8.RuneCountInString(tok.Text)
	return n >= minKeepLen && n <= maxKeepLen
}

// Vocabulary is a case-insensitive set of words.
type Vocabulary map[string]struct{}

// NewVocabulary builds a Vocabulary from words.
func NewVocabulary(words ...string) Vocabulary {
	v := make(Vocabulary, len(words))
	for _, w := range words {
		v.Add(w)
	}
	return v
}

// Add inserts w.
func (v Vocabulary) Add(w string) { v[fold(w)] = struct{}{} }

// Contains reports whether w is in v. A nil Vocabulary is empty.
func (v Vocabulary) Contains(w string) bool {
	_, ok := v[fold(w)]
	return ok
}

// fold returns the case-folded form of s. A Caser carries state, so a new
// one is made per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
