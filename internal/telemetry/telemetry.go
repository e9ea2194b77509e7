// Package telemetry collects local query metrics for the retrieval
// pipelines. Nothing is reported externally; aggregates feed the health
// endpoint.
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

// QueryKind labels which pipeline served a query.
type QueryKind string

const (
	KindGeneral    QueryKind = "general"
	KindRegulatory QueryKind = "regulatory"
)

// LatencyBucket is a histogram bucket for end-to-end retrieval latency.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "<10ms"
	BucketUnder50ms  LatencyBucket = "10-50ms"
	BucketUnder100ms LatencyBucket = "50-100ms"
	BucketUnder500ms LatencyBucket = "100-500ms"
	BucketSlow       LatencyBucket = ">=500ms"
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	default:
		return BucketSlow
	}
}

// QueryEvent is one recorded retrieval. Events carry a hash of the query,
// not its text.
type QueryEvent struct {
	QueryHash   string        `json:"query_hash"`
	Kind        QueryKind     `json:"kind"`
	ResultCount int           `json:"result_count"`
	Bucket      LatencyBucket `json:"latency_bucket"`
	Timestamp   time.Time     `json:"timestamp"`
}

// TermCount is a query term and how often it appeared.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Stats is an aggregated snapshot for reporting.
type Stats struct {
	TotalQueries        int64                   `json:"total_queries"`
	KindCounts          map[QueryKind]int64     `json:"kind_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms,omitempty"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries,omitempty"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultRate returns the share of queries that found nothing.
func (s *Stats) ZeroResultRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries)
}

// Options sizes the collector. Zero values take defaults.
type Options struct {
	// TopTermsCapacity bounds the tracked query terms.
	TopTermsCapacity int

	// ZeroResultsCapacity bounds the remembered zero-result queries.
	ZeroResultsCapacity int

	// RecentCapacity bounds the recent-events buffer.
	RecentCapacity int

	// RepeatWindow bounds how many query hashes repeat detection sees.
	RepeatWindow int
}

const (
	defaultTopTerms     = 100
	defaultZeroResults  = 100
	defaultRecent       = 100
	defaultRepeatWindow = 500
)

// Metrics collects query telemetry. Safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	kinds        map[QueryKind]int64
	latencies    map[LatencyBucket]int64
	topTerms     *lru.Cache[string, int64]
	zeroResults  *lru.Cache[string, time.Time]
	recentHashes *lru.Cache[string, struct{}]
	recent       *CircularBuffer[QueryEvent]

	totalQueries    int64
	zeroResultCount int64
	exactRepeats    int64
	startTime       time.Time
	closed          bool
}

// NewMetrics creates a collector with default capacities.
func NewMetrics() *Metrics {
	return NewMetricsWithOptions(Options{})
}

// NewMetricsWithOptions creates a collector with explicit capacities.
func NewMetricsWithOptions(opts Options) *Metrics {
	if opts.TopTermsCapacity <= 0 {
		opts.TopTermsCapacity = defaultTopTerms
	}
	if opts.ZeroResultsCapacity <= 0 {
		opts.ZeroResultsCapacity = defaultZeroResults
	}
	if opts.RecentCapacity <= 0 {
		opts.RecentCapacity = defaultRecent
	}
	if opts.RepeatWindow <= 0 {
		opts.RepeatWindow = defaultRepeatWindow
	}

	topTerms, _ := lru.New[string, int64](opts.TopTermsCapacity)
	zeroResults, _ := lru.New[string, time.Time](opts.ZeroResultsCapacity)
	recentHashes, _ := lru.New[string, struct{}](opts.RepeatWindow)

	return &Metrics{
		kinds:        make(map[QueryKind]int64),
		latencies:    make(map[LatencyBucket]int64),
		topTerms:     topTerms,
		zeroResults:  zeroResults,
		recentHashes: recentHashes,
		recent:       NewCircularBuffer[QueryEvent](opts.RecentCapacity),
		startTime:    time.Now(),
	}
}

// Record captures one served query.
func (m *Metrics) Record(query string, kind QueryKind, resultCount int, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	now := time.Now()
	bucket := LatencyToBucket(latency)

	m.totalQueries++
	m.kinds[kind]++
	m.latencies[bucket]++

	for _, term := range ExtractTerms(query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	normalized := normalizeQuery(query)
	if resultCount == 0 {
		m.zeroResultCount++
		// Zero-result queries keep their text: they are the actionable
		// diagnostic for corpus gaps.
		m.zeroResults.Add(normalized, now)
	}

	hash := hashQuery(normalized)
	if _, seen := m.recentHashes.Get(hash); seen {
		m.exactRepeats++
	}
	m.recentHashes.Add(hash, struct{}{})

	m.recent.Add(QueryEvent{
		QueryHash:   hash,
		Kind:        kind,
		ResultCount: resultCount,
		Bucket:      bucket,
		Timestamp:   now,
	})
}

// Stats returns an aggregated snapshot.
func (m *Metrics) Stats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := make(map[QueryKind]int64, len(m.kinds))
	for k, v := range m.kinds {
		kinds[k] = v
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

	return &Stats{
		TotalQueries:        m.totalQueries,
		KindCounts:          kinds,
		LatencyDistribution: latencies,
		TopTerms:            terms,
		ZeroResultCount:     m.zeroResultCount,
		ZeroResultQueries:   m.zeroResults.Keys(),
		ExactRepeatCount:    m.exactRepeats,
		Since:               m.startTime,
	}
}

// Recent returns the newest recorded events, oldest first.
func (m *Metrics) Recent() []QueryEvent {
	return m.recent.Items()
}

// Close stops recording. Collected aggregates stay readable.
func (m *Metrics) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ExtractTerms lowercases a query and keeps words of three or more bytes.
func ExtractTerms(query string) []string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	var terms []string
	for _, w := range words {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// hashQuery fingerprints a normalized query for repeat detection.
func hashQuery(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
