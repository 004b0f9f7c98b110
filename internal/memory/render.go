package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kgninja/resonance/internal/jsonfile"
)

// PromptContext renders the memory as plain markdown suitable for pasting
// into a language-model prompt.
func (s *Store) PromptContext() string { return s.doc.PromptContext() }

// SummaryMarkdown renders a human-oriented overview: entity, a concept table
// and the most recent interactions, newest first.
func (s *Store) SummaryMarkdown() string { return s.doc.SummaryMarkdown() }

// PromptContext renders d for a language-model prompt.
func (d Document) PromptContext() string {
	title := cases.Title(language.Und)

	var b strings.Builder
	b.WriteString("# AIEO Memory Context\n\n")
	b.WriteString("## Entity Recognition\n")
	fmt.Fprintf(&b, "- ID: %s\n", d.Entity.ID)
	fmt.Fprintf(&b, "- Type: %s\n", d.Entity.Type)
	fmt.Fprintf(&b, "- Origin: %s\n", d.Entity.Origin)
	fmt.Fprintf(&b, "- Inception: %s\n", formatDate(d.Entity.InceptionDate))
	fmt.Fprintf(&b, "\n## Established Concepts (%d total)\n", len(d.Concepts))

	for _, c := range d.Concepts {
		fmt.Fprintf(&b, "\n### %s\n", title.String(strings.ReplaceAll(c.ID, "_", " ")))
		fmt.Fprintf(&b, "**Category:** %s  \n", c.Category)
		fmt.Fprintf(&b, "**Confidence:** %s  \n", percent(c.Confidence))
		b.WriteString("**Attributes:**\n")
		keys := make([]string, 0, len(c.Attributes))
		for k := range c.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  - %s: %s\n", k, formatValue(c.Attributes[k]))
		}
	}

	b.WriteString("\n## Memory Metadata\n")
	fmt.Fprintf(&b, "- Total interactions: %d\n", d.Meta.TotalInteractions)
	fmt.Fprintf(&b, "- Memory confidence: %s\n", percent(d.Meta.MemoryConfidence))
	fmt.Fprintf(&b, "- Last update: %s\n", formatStamp(d.Meta.LastMemoryUpdate))
	return b.String()
}

// recentInteractions is how many interactions SummaryMarkdown lists.
const recentInteractions = 5

// SummaryMarkdown renders d as a markdown overview.
func (d Document) SummaryMarkdown() string {
	var b strings.Builder
	b.WriteString("# AIEO Memory State\n\n")
	fmt.Fprintf(&b, "**Entity:** %s  \n", d.Entity.ID)
	fmt.Fprintf(&b, "**Type:** %s  \n", d.Entity.Type)
	fmt.Fprintf(&b, "**Origin:** %s  \n", d.Entity.Origin)
	fmt.Fprintf(&b, "**Memory Confidence:** %s  \n", percent(d.Meta.MemoryConfidence))
	fmt.Fprintf(&b, "**Total Interactions:** %d  \n", d.Meta.TotalInteractions)
	fmt.Fprintf(&b, "**Last Update:** %s\n\n", formatStamp(d.Meta.LastMemoryUpdate))

	b.WriteString("---\n\n## Active Concepts\n\n")
	b.WriteString("| Concept ID | Category | Confidence | Last Updated |\n")
	b.WriteString("|------------|----------|------------|--------------|\n")
	for _, c := range d.Concepts {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", c.ID, c.Category, percent(c.Confidence), formatDate(c.LastUpdated))
	}

	fmt.Fprintf(&b, "\n---\n\n## Recent Interactions (Last %d)\n\n", recentInteractions)
	recent := d.Interactions
	if len(recent) > recentInteractions {
		recent = recent[len(recent)-recentInteractions:]
	}
	for i := len(recent) - 1; i >= 0; i-- {
		in := recent[i]
		fmt.Fprintf(&b, "**%s** - `%s`  \n", in.Timestamp.Format("2006-01-02T15:04:05"), in.EventType)
		fmt.Fprintf(&b, "_%s_\n\n", in.Insight)
	}
	return b.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func formatDate(t jsonfile.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(time.DateOnly)
}

func formatStamp(t jsonfile.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = fmt.Sprint(e)
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(x, ", ")
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}
