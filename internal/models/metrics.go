package models

import "time"

// SystemMetrics is a lightweight JSON snapshot of process metrics.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	ClaimsSubmitted          uint64    `json:"claims_submitted"`
	ClaimsDecided            uint64    `json:"claims_decided"`
	PersistFailures          uint64    `json:"persist_failures"`
	IntegrityViolations      int       `json:"integrity_violations"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
