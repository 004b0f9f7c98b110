package source

import "testing"

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		wantKind string
		wantURL  string
		wantErr  bool
	}{
		{"rss:https://nitter.net/{account}/rss", "rss", "https://nitter.net/{account}/rss", false},
		{"atom:https://blog.example/feed", "rss", "https://blog.example/feed", false},
		{"search:https://www.googleapis.com/customsearch/v1?cx=1", "search", "https://www.googleapis.com/customsearch/v1?cx=1", false},
		{"https://nitter.poast.org/x/rss", "rss", "https://nitter.poast.org/x/rss", false},
		{"  https://a.example/rss  ", "rss", "https://a.example/rss", false},
		{"ftp://nope", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		ep, err := ParseEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEndpoint(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEndpoint(%q): %v", tt.in, err)
			continue
		}
		if ep.Kind != tt.wantKind || ep.URL != tt.wantURL {
			t.Errorf("ParseEndpoint(%q) = %+v, want %s %s", tt.in, ep, tt.wantKind, tt.wantURL)
		}
	}
}

func TestFromSpecs_PreservesOrderAndSubstitutesAccount(t *testing.T) {
	adapters, err := FromSpecs([]string{
		"rss:https://nitter.net/{account}/rss",
		"search:https://search.example/v1",
		"https://nitter.poast.org/{account}/rss",
	}, Options{Account: "FuwaCocoOwnerKG"})
	if err != nil {
		t.Fatalf("FromSpecs: %v", err)
	}

	want := []string{
		"https://nitter.net/FuwaCocoOwnerKG/rss",
		"https://search.example/v1",
		"https://nitter.poast.org/FuwaCocoOwnerKG/rss",
	}
	if len(adapters) != len(want) {
		t.Fatalf("got %d adapters, want %d", len(adapters), len(want))
	}
	for i, a := range adapters {
		if a.ID() != want[i] {
			t.Errorf("adapter %d ID = %q, want %q", i, a.ID(), want[i])
		}
	}
	if _, ok := adapters[1].(*SearchAdapter); !ok {
		t.Errorf("adapter 1 is %T, want *SearchAdapter", adapters[1])
	}
}

func TestFromSpecs_BadSpec(t *testing.T) {
	if _, err := FromSpecs([]string{"gopher://x"}, Options{}); err == nil {
		t.Fatal("expected error")
	}
}
