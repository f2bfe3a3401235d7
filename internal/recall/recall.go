// Package recall remembers the last snapshot broadcast for each position so
// that returning to a position shows its evaluation before the engine has
// caught up again.
package recall

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jacokyle01/analysis-bridge/internal/log"
	"github.com/jacokyle01/analysis-bridge/internal/models"
)

// Cache is an in-memory TTL cache keyed by position descriptor. A Cache
// built with a zero TTL stores nothing.
type Cache struct {
	ttl    time.Duration
	cache  *gocache.Cache
	logger zerolog.Logger
}

// New returns a cache whose entries expire ttl after their last store.
func New(ttl time.Duration) *Cache {
	c := &Cache{ttl: ttl, logger: log.For("recall")}
	if ttl > 0 {
		c.cache = gocache.New(ttl, 2*ttl)
	}
	return c
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool {
	return c.cache != nil
}

// Lookup returns the snapshot last stored for fen.
func (c *Cache) Lookup(fen string) (models.Snapshot, bool) {
	if c.cache == nil {
		return models.Snapshot{}, false
	}
	v, found := c.cache.Get(fen)
	if !found {
		return models.Snapshot{}, false
	}
	snap, ok := v.(models.Snapshot)
	if !ok {
		c.logger.Error().Str("fen", fen).Msg("wrong type in recall cache")
		return models.Snapshot{}, false
	}
	c.logger.Debug().Str("fen", fen).Int("lines", len(snap.Lines)).Msg("recall hit")
	return snap, true
}

// Store records snap under its position. Snapshots without lines are not
// worth replaying.
func (c *Cache) Store(snap models.Snapshot) {
	if c.cache == nil || len(snap.Lines) == 0 {
		return
	}
	c.cache.Set(snap.FEN, snap, gocache.DefaultExpiration)
}

// Len returns the number of unexpired entries.
func (c *Cache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.ItemCount()
}
