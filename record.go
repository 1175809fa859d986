package mimir

import "time"

// SearchRecord is one per-request analytics sample consumed by the
// asynchronous recorder.
type SearchRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	UserID          int64     `json:"user_id,omitempty"`
	NormalizedQuery string    `json:"normalized_query"`
	Strategy        Strategy  `json:"strategy"`
	Success         bool      `json:"success"`
	CacheHit        bool      `json:"cache_hit"`
	ResultCount     int       `json:"result_count"`
	ResponseTimeMs  int64     `json:"response_time_ms"`
	SQLGenMs        int64     `json:"sql_gen_ms"`
	SQLExecMs       int64     `json:"sql_exec_ms"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
}

// PopularQuery is the process-wide popularity aggregate for one
// normalized query.
type PopularQuery struct {
	NormalizedQuery string    `json:"normalized_query"`
	Count           int64     `json:"count"`
	LastSeen        time.Time `json:"last_seen"`
	AvgResponseTime float64   `json:"avg_response_time"`
	SuccessRate     float64   `json:"success_rate"`
}
