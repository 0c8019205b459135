// Package telemetry records local search telemetry: which modality mixes
// are queried, how fast, which terms recur and which queries find nothing.
// Nothing leaves the machine unless the Prometheus endpoint is enabled.
package telemetry

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType names the modality mix of a search, such as "text" or
// "object+tag".
type QueryType string

// Status labels for recorded searches.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

var bucketBounds = []struct {
	below  time.Duration
	bucket LatencyBucket
}{
	{10 * time.Millisecond, BucketP10},
	{50 * time.Millisecond, BucketP50},
	{100 * time.Millisecond, BucketP100},
	{500 * time.Millisecond, BucketP500},
}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	for _, b := range bucketBounds {
		if d < b.below {
			return b.bucket
		}
	}
	return BucketP1000
}

// QueryEvent describes one completed or failed search.
type QueryEvent struct {
	Query       string
	QueryType   QueryType
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
	Failed      bool
}

// IsZeroResult reports a successful search that matched nothing.
func (e QueryEvent) IsZeroResult() bool {
	return !e.Failed && e.ResultCount == 0
}

// Status returns StatusOK or StatusFailed.
func (e QueryEvent) Status() string {
	if e.Failed {
		return StatusFailed
	}
	return StatusOK
}

// Recorder receives query events.
type Recorder interface {
	Record(event QueryEvent)
}

// Multi fans one event out to several recorders. Nil entries are skipped.
type Multi []Recorder

// Record forwards the event to every recorder.
func (m Multi) Record(event QueryEvent) {
	for _, r := range m {
		if r != nil {
			r.Record(event)
		}
	}
}

// recentQueries keeps the last n queries. It relies on the owner's lock.
type recentQueries struct {
	buf  []string
	next int
	full bool
}

func newRecentQueries(n int) *recentQueries {
	if n <= 0 {
		n = 100
	}
	return &recentQueries{buf: make([]string, n)}
}

func (r *recentQueries) push(q string) {
	r.buf[r.next] = q
	r.next++
	if r.next == len(r.buf) {
		r.next, r.full = 0, true
	}
}

// list returns the queries oldest first.
func (r *recentQueries) list() []string {
	if !r.full {
		return slices.Clone(r.buf[:r.next])
	}
	return append(slices.Clone(r.buf[r.next:]), r.buf[:r.next]...)
}

func (r *recentQueries) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// ExtractTerms lowercases a query and keeps words of three or more bytes.
// Grid tokens such as "a0dog" are kept whole.
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

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	QueryTypeCounts     map[QueryType]int64     `json:"query_type_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	FailedCount         int64                   `json:"failed_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of zero-result searches in percent.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Store persists aggregated metrics between runs.
type Store interface {
	SaveQueryTypeCounts(date string, counts map[QueryType]int64, failed map[QueryType]int64) error
	GetQueryTypeCounts(from, to string) (map[QueryType]int64, error)
	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)
	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// Config configures the collector.
type Config struct {
	TopTermsCapacity    int           `yaml:"top_terms" json:"top_terms"`
	ZeroResultsCapacity int           `yaml:"zero_results" json:"zero_results"`
	FlushInterval       time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// pending holds counts recorded since the last flush.
type pending struct {
	types     map[QueryType]int64
	failed    map[QueryType]int64
	terms     map[string]int64
	latencies map[LatencyBucket]int64
	zero      []QueryEvent
}

func newPending() pending {
	return pending{
		types:     make(map[QueryType]int64),
		failed:    make(map[QueryType]int64),
		terms:     make(map[string]int64),
		latencies: make(map[LatencyBucket]int64),
	}
}

// QueryMetrics aggregates query events in memory and periodically flushes
// the increments to a Store. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	queryTypes      map[QueryType]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *recentQueries
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	failedCount     int64
	startTime       time.Time

	delta  pending
	store  Store
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

// NewQueryMetrics creates a collector. A nil store keeps metrics in memory.
func NewQueryMetrics(store Store, cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	m := &QueryMetrics{
		queryTypes:  make(map[QueryType]int64),
		topTerms:    topTerms,
		zeroResults: newRecentQueries(cfg.ZeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
		startTime:   time.Now(),
		delta:       newPending(),
		store:       store,
		stopCh:      make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one search event.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.totalQueries++
	m.queryTypes[event.QueryType]++
	m.delta.types[event.QueryType]++
	if event.Failed {
		m.failedCount++
		m.delta.failed[event.QueryType]++
	}

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.delta.terms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResultCount++
		m.zeroResults.push(event.Query)
		m.delta.zero = append(m.delta.zero, event)
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.delta.latencies[bucket]++
}

// Snapshot returns a copy of the current metrics.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var top []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			top = append(top, TermCount{Term: key, Count: count})
		}
	}
	slices.SortStableFunc(top, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Term, b.Term)
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}
	types := make(map[QueryType]int64, len(m.queryTypes))
	for k, v := range m.queryTypes {
		types[k] = v
	}

	return &Snapshot{
		QueryTypeCounts:     types,
		TopTerms:            top,
		ZeroResultQueries:   m.zeroResults.list(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		FailedCount:         m.failedCount,
		Since:               m.startTime,
	}
}

// Flush writes the increments recorded since the last flush to the store.
// On error the increments are kept for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	d := m.delta
	m.delta = newPending()
	m.mu.Unlock()

	if err := m.write(&d); err != nil {
		m.mu.Lock()
		m.delta = merge(d, m.delta)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *QueryMetrics) write(d *pending) error {
	today := time.Now().Format(time.DateOnly)
	if len(d.types) > 0 {
		if err := m.store.SaveQueryTypeCounts(today, d.types, d.failed); err != nil {
			return err
		}
		// counted once; a later retry must not add them again
		clear(d.types)
		clear(d.failed)
	}
	if len(d.terms) > 0 {
		if err := m.store.UpsertTermCounts(d.terms); err != nil {
			return err
		}
		clear(d.terms)
	}
	if len(d.latencies) > 0 {
		if err := m.store.SaveLatencyCounts(today, d.latencies); err != nil {
			return err
		}
		clear(d.latencies)
	}
	for len(d.zero) > 0 {
		if err := m.store.AddZeroResultQuery(d.zero[0].Query, d.zero[0].Timestamp); err != nil {
			return err
		}
		d.zero = d.zero[1:]
	}
	return nil
}

// merge folds the newer increments b into the unsent remainder a.
func merge(a, b pending) pending {
	for k, v := range b.types {
		a.types[k] += v
	}
	for k, v := range b.failed {
		a.failed[k] += v
	}
	for k, v := range b.terms {
		a.terms[k] += v
	}
	for k, v := range b.latencies {
		a.latencies[k] += v
	}
	a.zero = append(a.zero, b.zero...)
	return a
}

// Close stops the flush loop and performs a final flush.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
