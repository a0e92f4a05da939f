package core

import (
	"time"

	"LedgerStats/internal/observability"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// IdempotencyChecker implements two-tier deduplication on event ids: an
// in-memory LRU in front of the durable processed-events table.
// Not thread-safe: only accessed from the engine goroutine.
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU
	lru *simplelru.LRU[string, int64]

	// Tier 2: processed-events table (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics   *IdempotencyMetrics
	promStats *observability.Metrics
}

// DBIdempotencyChecker looks up an event id in durable storage
type DBIdempotencyChecker interface {
	IsDuplicate(eventID string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = 1
	}
	ic := &IdempotencyChecker{
		dbChecker: dbChecker,
		metrics:   &IdempotencyMetrics{},
		promStats: metrics,
	}
	// Only errors on a non-positive size
	ic.lru, _ = simplelru.NewLRU[string, int64](capacity, func(string, int64) {
		ic.metrics.evictions++
	})
	return ic
}

// IsDuplicate reports whether the event id was already applied. A tier-2
// error is counted and treated as not seen; the sequence check still
// rejects replays of anything at or below the applied watermark.
func (ic *IdempotencyChecker) IsDuplicate(eventType, eventID string) (bool, string) {
	if ic.lru.Contains(eventID) {
		ic.metrics.lruHits++
		return true, "lru"
	}

	if ic.dbChecker == nil {
		return false, ""
	}
	start := time.Now()
	isDup, err := ic.dbChecker.IsDuplicate(eventID)
	if ic.promStats != nil {
		ic.promStats.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		ic.metrics.tier2Errors++
		return false, ""
	}
	if isDup {
		ic.metrics.dbHits++
		// Avoid another table lookup for the same id
		ic.lru.Add(eventID, 0)
		return true, "db"
	}
	return false, ""
}

// IsCached checks the in-memory tier only.
func (ic *IdempotencyChecker) IsCached(eventID string) bool {
	if ic.lru.Contains(eventID) {
		ic.metrics.lruHits++
		return true
	}
	return false
}

// MarkProcessed records an applied event id with its sequence.
func (ic *IdempotencyChecker) MarkProcessed(eventID string, seq int64) {
	ic.lru.Add(eventID, seq)
	if ic.promStats != nil {
		ic.promStats.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// WarmFromKeys loads recently processed ids, oldest first, so the newest
// survive if there are more than the capacity.
func (ic *IdempotencyChecker) WarmFromKeys(ids []string) {
	for _, id := range ids {
		ic.lru.Add(id, 0)
	}
}

// Keys returns cached ids from oldest to newest.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) Metrics() IdempotencyMetrics {
	return *ic.metrics
}

// IdempotencyMetrics tracks dedup stats.
type IdempotencyMetrics struct {
	lruHits     int64
	dbHits      int64
	tier2Errors int64
	evictions   int64
}

func (m IdempotencyMetrics) LRUHits() int64     { return m.lruHits }
func (m IdempotencyMetrics) DBHits() int64      { return m.dbHits }
func (m IdempotencyMetrics) Tier2Errors() int64 { return m.tier2Errors }
func (m IdempotencyMetrics) Evictions() int64   { return m.evictions }
