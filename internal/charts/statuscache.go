package charts

import (
	"sync"
	"time"
)

const (
	statusCacheTTL   = 5 * time.Minute
	maxStatusEntries = 1000
	maxResultEntries = 500
)

type statusEntry struct {
	chart    Chart
	storedAt time.Time
}

type resultEntry struct {
	doc        *ResultDocument
	confidence float64
	storedAt   time.Time
}

// StatusCache keeps terminal chart statuses and finished result documents
// for a short TTL so polling clients stop hitting the database. Non-terminal
// states are never cached; reprocessing and review updates invalidate.
type StatusCache struct {
	mu      sync.Mutex
	status  map[string]statusEntry
	results map[string]resultEntry
	now     func() time.Time
}

// NewStatusCache creates an empty cache.
func NewStatusCache() *StatusCache {
	return &StatusCache{
		status:  make(map[string]statusEntry),
		results: make(map[string]resultEntry),
		now:     time.Now,
	}
}

// GetStatus returns a cached terminal chart, if fresh.
func (c *StatusCache) GetStatus(chartID string) (Chart, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.status[chartID]
	if !ok || c.expired(entry.storedAt) {
		delete(c.status, chartID)
		return Chart{}, false
	}
	return entry.chart, true
}

// PutStatus caches a chart if its status is terminal.
func (c *StatusCache) PutStatus(chart Chart) {
	if !chart.Status.Terminal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id := evictCandidate(c.statusKeys(), maxStatusEntries, chart.ID); id != "" {
		delete(c.status, id)
	}
	c.status[chart.ID] = statusEntry{chart: chart, storedAt: c.now()}
}

// GetResult returns a cached result document, if fresh.
func (c *StatusCache) GetResult(chartID string) (*ResultDocument, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.results[chartID]
	if !ok || c.expired(entry.storedAt) {
		delete(c.results, chartID)
		return nil, 0, false
	}
	return entry.doc, entry.confidence, true
}

// PutResult caches a finished result document.
func (c *StatusCache) PutResult(chartID string, doc *ResultDocument, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id := evictCandidate(c.resultKeys(), maxResultEntries, chartID); id != "" {
		delete(c.results, id)
	}
	c.results[chartID] = resultEntry{doc: doc, confidence: confidence, storedAt: c.now()}
}

// Invalidate drops both entries for a chart.
func (c *StatusCache) Invalidate(chartID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.status, chartID)
	delete(c.results, chartID)
}

func (c *StatusCache) expired(storedAt time.Time) bool {
	return c.now().Sub(storedAt) > statusCacheTTL
}

type cacheKey struct {
	id       string
	storedAt time.Time
}

func (c *StatusCache) statusKeys() []cacheKey {
	keys := make([]cacheKey, 0, len(c.status))
	for id, entry := range c.status {
		keys = append(keys, cacheKey{id: id, storedAt: entry.storedAt})
	}
	return keys
}

func (c *StatusCache) resultKeys() []cacheKey {
	keys := make([]cacheKey, 0, len(c.results))
	for id, entry := range c.results {
		keys = append(keys, cacheKey{id: id, storedAt: entry.storedAt})
	}
	return keys
}

// evictCandidate picks the oldest entry to drop once the cap is reached.
// The caller deletes from its own map only; the sibling cache keeps its
// entry.
func evictCandidate(keys []cacheKey, capacity int, incoming string) string {
	if len(keys) < capacity {
		return ""
	}
	oldest := ""
	var oldestAt time.Time
	for _, k := range keys {
		if k.id == incoming {
			return ""
		}
		if oldest == "" || k.storedAt.Before(oldestAt) {
			oldest = k.id
			oldestAt = k.storedAt
		}
	}
	return oldest
}
