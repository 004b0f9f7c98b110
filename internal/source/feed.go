package source

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/kgninja/resonance/internal/jsonfile"
)

// FeedAdapter reads an RSS 2.0 or Atom 1.0 feed, e.g. a timeline mirror.
type FeedAdapter struct {
	url string
	cfg HTTPConfig
	now func() time.Time
}

// NewFeedAdapter creates an adapter for the feed at url.
func NewFeedAdapter(url string, cfg HTTPConfig) *FeedAdapter {
	cfg.defaults()
	return &FeedAdapter{url: url, cfg: cfg, now: time.Now}
}

// ID returns the feed URL.
func (a *FeedAdapter) ID() string { return a.url }

// Fetch downloads and parses the feed once.
func (a *FeedAdapter) Fetch(ctx context.Context, maxAge time.Duration) ([]RawItem, error) {
	body, err := get(ctx, a.cfg, a.url, a.url)
	if err != nil {
		return nil, err
	}

	entries, err := parseFeed(body)
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, SourceID: a.url, Err: err}
	}

	now := a.now()
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}

	items := make([]RawItem, 0, len(entries))
	for _, e := range entries {
		published, ok := parseFeedTime(e.published)
		if !ok {
			published = now
		}
		if !cutoff.IsZero() && published.Before(cutoff) {
			continue
		}
		text := e.description
		if text == "" {
			text = e.content
		}
		items = append(items, RawItem{
			Title:       plainText(e.title),
			Body:        plainText(text),
			PublishedAt: jsonfile.At(published.UTC()),
			SourceID:    a.url,
			OriginURL:   e.link,
		})
	}
	return items, nil
}

type feedEntry struct {
	title       string
	link        string
	description string
	content     string
	published   string
}

// parseFeed auto-detects RSS or Atom from the root element.
func parseFeed(data []byte) ([]feedEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("feed: empty document")
	}
	switch detectFormat(trimmed) {
	case "rss":
		return parseRSS(trimmed)
	case "atom":
		return parseAtom(trimmed)
	default:
		return nil, fmt.Errorf("feed: unknown format (expected <rss> or <feed>)")
	}
}

func detectFormat(data []byte) string {
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			switch strings.ToLower(se.Name.Local) {
			case "rss", "rdf":
				return "rss"
			case "feed":
				return "atom"
			}
			return ""
		}
	}
}

type rssDoc struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			Content     string `xml:"encoded"`
			PubDate     string `xml:"pubDate"`
			Date        string `xml:"date"` // dc:date
		} `xml:"item"`
	} `xml:"channel"`
}

func parseRSS(data []byte) ([]feedEntry, error) {
	var doc rssDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse rss: %w", err)
	}
	out := make([]feedEntry, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		published := it.PubDate
		if strings.TrimSpace(published) == "" {
			published = it.Date
		}
		out = append(out, feedEntry{
			title:       strings.TrimSpace(it.Title),
			link:        strings.TrimSpace(it.Link),
			description: strings.TrimSpace(it.Description),
			content:     strings.TrimSpace(it.Content),
			published:   strings.TrimSpace(published),
		})
	}
	return out, nil
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomDoc struct {
	Entries []struct {
		Title     string     `xml:"title"`
		Links     []atomLink `xml:"link"`
		Summary   string     `xml:"summary"`
		Content   string     `xml:"content"`
		Published string     `xml:"published"`
		Updated   string     `xml:"updated"`
	} `xml:"entry"`
}

func parseAtom(data []byte) ([]feedEntry, error) {
	var doc atomDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse atom: %w", err)
	}
	out := make([]feedEntry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		published := e.Published
		if strings.TrimSpace(published) == "" {
			published = e.Updated
		}
		out = append(out, feedEntry{
			title:       strings.TrimSpace(e.Title),
			link:        alternateLink(e.Links),
			description: strings.TrimSpace(e.Summary),
			content:     strings.TrimSpace(e.Content),
			published:   strings.TrimSpace(published),
		})
	}
	return out, nil
}

func alternateLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
}

func parseFeedTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
