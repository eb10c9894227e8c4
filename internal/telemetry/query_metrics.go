// Package telemetry provides Prometheus metrics, tracing spans and local
// query pattern statistics. Query statistics stay in process memory; nothing
// is reported externally unless /metrics is scraped.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType classifies a query by the retrieval signal it asked for.
type QueryType string

const (
	QueryTypeLexical  QueryType = "lexical"  // alpha 0
	QueryTypeSemantic QueryType = "semantic" // alpha 1
	QueryTypeMixed    QueryType = "mixed"
)

// ClassifyAlpha returns the QueryType for a blend weight.
func ClassifyAlpha(alpha float64) QueryType {
	switch {
	case alpha <= 0:
		return QueryTypeLexical
	case alpha >= 1:
		return QueryTypeSemantic
	default:
		return QueryTypeMixed
	}
}

// LatencyBucket is a coarse latency class.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one completed query.
type QueryEvent struct {
	Query       string
	QueryType   QueryType
	ResultCount int
	Latency     time.Duration
}

// CircularBuffer is a fixed-capacity FIFO buffer that evicts the oldest item.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer. A non-positive capacity uses 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	n := copy(out, b.items[b.head:])
	copy(out[n:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases query and returns its whitespace-separated words
// of at least three bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it was queried.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryMetricsSnapshot is a point-in-time copy of QueryMetrics.
type QueryMetricsSnapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	QueryTypeCounts     map[QueryType]int64     `json:"query_type_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryMetricsConfig sizes the bounded structures of QueryMetrics.
type QueryMetricsConfig struct {
	TopTermsCapacity      int // default 100
	ZeroResultsCapacity   int // default 100
	RecentQueriesCapacity int // default 500
}

// DefaultQueryMetricsConfig returns the default capacities.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
	}
}

// QueryMetrics aggregates query patterns in bounded memory.
// It is safe for concurrent use; a nil *QueryMetrics records nothing.
type QueryMetrics struct {
	mu sync.Mutex

	total       int64
	types       map[QueryType]int64
	topTerms    *lru.Cache[string, int64]
	zeroResults *CircularBuffer[string]
	zeroCount   int64
	latencies   map[LatencyBucket]int64

	recent       *lru.Cache[string, struct{}]
	exactRepeats int64

	since time.Time
}

// NewQueryMetrics creates a collector. Zero capacities use the defaults.
func NewQueryMetrics(cfg QueryMetricsConfig) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &QueryMetrics{
		types:       make(map[QueryType]int64),
		topTerms:    topTerms,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
		recent:      recent,
		since:       time.Now(),
	}
}

// Record adds one query to the aggregates.
func (m *QueryMetrics) Record(event QueryEvent) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.types[event.QueryType]++
	m.latencies[LatencyToBucket(event.Latency)]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.ResultCount == 0 {
		m.zeroResults.Add(event.Query)
		m.zeroCount++
	}

	key := hashQuery(event.Query)
	if _, seen := m.recent.Get(key); seen {
		m.exactRepeats++
	}
	m.recent.Add(key, struct{}{})
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot copies the current aggregates. Top terms are sorted by count
// (desc), then term.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	if m == nil {
		return &QueryMetricsSnapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	types := make(map[QueryType]int64, len(m.types))
	for k, v := range m.types {
		types[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &QueryMetricsSnapshot{
		TotalQueries:        m.total,
		QueryTypeCounts:     types,
		TopTerms:            terms,
		ZeroResultCount:     m.zeroCount,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		ExactRepeatCount:    m.exactRepeats,
		Since:               m.since,
	}
}
