package config

import "strings"

// ConfigBackend abstracts platform-specific config storage.
// macOS uses UserDefaults (via `defaults` CLI), other platforms a JSON file
// under $XDG_CONFIG_HOME. List values travel as comma-separated strings.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// parseDefaultsArray parses the old-style plist array printed by
// `defaults read`, e.g.
//
//	(
//	    "rss:https://a.example/rss",
//	    "rss:https://b.example/rss"
//	)
func parseDefaultsArray(s string) ([]string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, false
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []string{}, true
	}
	var items []string
	for _, line := range strings.Split(body, "\n") {
		item := strings.TrimSuffix(strings.TrimSpace(line), ",")
		item = strings.Trim(item, `"`)
		if item != "" {
			items = append(items, item)
		}
	}
	return items, true
}
