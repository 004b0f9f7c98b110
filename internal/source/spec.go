package source

import (
	"fmt"
	"strings"
)

// Endpoint describes one configured upstream, e.g. "rss:https://nitter.net/{account}/rss".
type Endpoint struct {
	Kind string // "rss" or "search"
	URL  string
}

// ParseEndpoint parses "kind:url". A bare URL is treated as a feed.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}
	kind, rest, found := strings.Cut(s, ":")
	switch {
	case found && (kind == "rss" || kind == "atom" || kind == "feed"):
		return Endpoint{Kind: "rss", URL: rest}, nil
	case found && kind == "search":
		return Endpoint{Kind: "search", URL: rest}, nil
	case strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"):
		return Endpoint{Kind: "rss", URL: s}, nil
	default:
		return Endpoint{}, fmt.Errorf("unknown endpoint kind in %q (want rss:, search: or a URL)", s)
	}
}

// Options carries the values substituted into endpoints.
type Options struct {
	Account      string // replaces {account} in feed URLs; the search query
	SearchAPIKey string
	HTTP         HTTPConfig
}

// FromSpecs builds adapters in the given priority order.
func FromSpecs(specs []string, opts Options) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(specs))
	for _, s := range specs {
		ep, err := ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		switch ep.Kind {
		case "rss":
			adapters = append(adapters, NewFeedAdapter(strings.ReplaceAll(ep.URL, "{account}", opts.Account), opts.HTTP))
		case "search":
			adapters = append(adapters, NewSearchAdapter(ep.URL, opts.Account, opts.SearchAPIKey, opts.HTTP))
		}
	}
	return adapters, nil
}
