package metrics

import "time"

// Set is the fixed collection of metrics recorded by sitechat. All methods
// are safe on a nil *Set so components can run without metrics.
type Set struct {
	reg *Registry

	pagesFetched   *Counter
	ingestRuns     *Counter
	ingestFailures *Counter
	ingestDuration *Histogram
	indexEntries   *Gauge
	queries        *Counter
	queryDuration  *Histogram
}

// NewSet registers sitechat's metrics on reg.
func NewSet(reg *Registry) *Set {
	return &Set{
		reg:            reg,
		pagesFetched:   reg.Counter("sitechat_crawl_pages_fetched_total", "Pages fetched and kept by the crawler."),
		ingestRuns:     reg.Counter("sitechat_ingest_runs_total", "Ingestion runs started."),
		ingestFailures: reg.Counter("sitechat_ingest_failures_total", "Ingestion runs that did not publish a new index."),
		ingestDuration: reg.Histogram("sitechat_ingest_duration_seconds", "Wall time of ingestion runs.", nil),
		indexEntries:   reg.Gauge("sitechat_index_entries", "Entries in the last published index."),
		queries:        reg.Counter("sitechat_queries_total", "Questions answered."),
		queryDuration:  reg.Histogram("sitechat_query_duration_seconds", "Time to answer a question.", nil),
	}
}

// Registry returns the registry backing the set.
func (s *Set) Registry() *Registry {
	if s == nil {
		return nil
	}
	return s.reg
}

// PageFetched counts a kept page.
func (s *Set) PageFetched() {
	if s != nil {
		s.pagesFetched.Inc()
	}
}

// PageSkipped counts a page the crawler skipped, by reason.
func (s *Set) PageSkipped(reason string) {
	if s != nil {
		s.reg.Counter(WithLabels("sitechat_crawl_pages_skipped_total", "reason", reason), "Queue entries skipped by the crawler.").Inc()
	}
}

// IngestStarted counts a run.
func (s *Set) IngestStarted() {
	if s != nil {
		s.ingestRuns.Inc()
	}
}

// IngestFinished records a run's outcome. entries is ignored on failure.
func (s *Set) IngestFinished(start time.Time, entries int, err error) {
	if s == nil {
		return
	}
	s.ingestDuration.Since(start)
	if err != nil {
		s.ingestFailures.Inc()
		return
	}
	s.indexEntries.Set(int64(entries))
}

// QueryFinished records a question. errKind is empty on success.
func (s *Set) QueryFinished(start time.Time, errKind string) {
	if s == nil {
		return
	}
	s.queries.Inc()
	s.queryDuration.Since(start)
	if errKind != "" {
		s.reg.Counter(WithLabels("sitechat_query_errors_total", "kind", errKind), "Questions that failed.").Inc()
	}
}

// BreakerState exposes a circuit breaker state as a gauge (0 closed, 1 open, 2 half-open).
func (s *Set) BreakerState(name string, state int) {
	if s != nil {
		s.reg.Gauge(WithLabels("sitechat_breaker_state", "breaker", name), "Circuit breaker state.").Set(int64(state))
	}
}
