//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resonance", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	content := `{"server.port": 4300, "source.endpoints": ["rss:https://a.example/rss", "rss:https://b.example/rss"]}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	b := &fileBackend{path: path, data: make(map[string]any)}
	b.load()

	port, ok, err := b.GetInt("server.port")
	if err != nil || !ok || port != 4300 {
		t.Errorf("GetInt = %d, %v, %v", port, ok, err)
	}
	eps, ok, err := b.GetString("source.endpoints")
	if err != nil || !ok || eps != "rss:https://a.example/rss,rss:https://b.example/rss" {
		t.Errorf("GetString(list) = %q, %v, %v", eps, ok, err)
	}

	if err := setKey(b, "harvest.cache_ttl", "48h"); err != nil {
		t.Fatal(err)
	}
	reloaded := &fileBackend{path: path, data: make(map[string]any)}
	reloaded.load()
	if v, _, _ := reloaded.GetString("harvest.cache_ttl"); v != "48h0m0s" {
		t.Errorf("persisted cache_ttl = %q", v)
	}
	if _, ok, _ := reloaded.GetString("server.port"); !ok {
		t.Error("existing keys lost on save")
	}
}
