package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/kgninja/resonance/internal/jsonfile"
)

// SearchAdapter queries a Custom-Search-style JSON API
// (GET endpoint?key=…&q=…&num=… → {"items":[{"title","link","snippet"}]}).
type SearchAdapter struct {
	endpoint string
	query    string
	apiKey   string
	num      int
	cfg      HTTPConfig
	now      func() time.Time
}

// NewSearchAdapter creates an adapter that searches endpoint for query.
// apiKey may be empty for endpoints that do not need one.
func NewSearchAdapter(endpoint, query, apiKey string, cfg HTTPConfig) *SearchAdapter {
	cfg.defaults()
	return &SearchAdapter{
		endpoint: endpoint,
		query:    query,
		apiKey:   apiKey,
		num:      10,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ID returns the endpoint without credentials.
func (a *SearchAdapter) ID() string { return a.endpoint }

type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Fetch runs the query once. Search hits carry no publication date, so they
// are stamped with the fetch time and maxAge has no effect.
func (a *SearchAdapter) Fetch(ctx context.Context, _ time.Duration) ([]RawItem, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, SourceID: a.ID(), Err: fmt.Errorf("parsing endpoint: %w", err)}
	}
	q := u.Query()
	q.Set("q", a.query)
	q.Set("num", strconv.Itoa(a.num))
	if a.apiKey != "" {
		q.Set("key", a.apiKey)
	}
	u.RawQuery = q.Encode()

	body, err := get(ctx, a.cfg, a.ID(), u.String())
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{Kind: Unreachable, SourceID: a.ID(), Err: fmt.Errorf("decoding search response: %w", err)}
	}

	now := a.now().UTC()
	items := make([]RawItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, RawItem{
			Title:       plainText(it.Title),
			Body:        plainText(it.Snippet),
			PublishedAt: jsonfile.At(now),
			SourceID:    a.ID(),
			OriginURL:   it.Link,
		})
	}
	return items, nil
}
