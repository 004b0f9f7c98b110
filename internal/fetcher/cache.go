package fetcher

import (
	"fmt"
	"time"

	"github.com/kgninja/resonance/internal/jsonfile"
	"github.com/kgninja/resonance/internal/source"
)

// CachedBatch is the last successful live fetch. It is replaced wholesale on
// every successful fetch and never edited in place.
type CachedBatch struct {
	FetchedAt jsonfile.Time    `json:"timestamp"`
	Items     []source.RawItem `json:"posts"`
}

// Age returns how old the batch is at now.
func (b CachedBatch) Age(now time.Time) time.Duration {
	return now.Sub(b.FetchedAt.Time)
}

// LoadCache reads the cache document. ok is false when there is no usable
// cache: the file is missing, holds no items, or is malformed. A malformed
// file is moved aside so the next successful fetch can replace it.
func (f *Fetcher) LoadCache() (batch CachedBatch, ok bool) {
	found, err := jsonfile.Read(f.cfg.CachePath, &batch)
	if !found {
		return CachedBatch{}, false
	}
	if err != nil {
		f.logger.Warn("ignoring unreadable fetch cache", "path", f.cfg.CachePath, "error", err)
		if jsonfile.IsMalformed(err) {
			if dst, qerr := jsonfile.Quarantine(f.cfg.CachePath, f.clock.Now()); qerr == nil {
				f.logger.Warn("quarantined malformed fetch cache", "moved_to", dst)
			}
		}
		return CachedBatch{}, false
	}
	if batch.FetchedAt.IsZero() || len(batch.Items) == 0 {
		return CachedBatch{}, false
	}
	return batch, true
}

func (f *Fetcher) saveCache(batch CachedBatch) error {
	if err := jsonfile.Write(f.cfg.CachePath, batch); err != nil {
		return fmt.Errorf("saving fetch cache: %w", err)
	}
	return nil
}
