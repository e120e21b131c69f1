package model

import "time"

// BufferFilter narrows a ring buffer snapshot read. All provided criteria must
// match. Sources match by exact name or dotted prefix.
type BufferFilter struct {
	MinLevel       *Level   `json:"min_level,omitempty"`
	Sources        []string `json:"sources,omitempty"`
	Search         string   `json:"search,omitempty"`
	ExceptionsOnly bool     `json:"exceptions_only,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// BufferStats is a point-in-time summary of the ring buffer.
type BufferStats struct {
	Count    int            `json:"count"`
	Capacity int            `json:"capacity"`
	ByLevel  map[string]int `json:"by_level"`
	Oldest   *time.Time     `json:"oldest,omitempty"`
	Newest   *time.Time     `json:"newest,omitempty"`
}

// ErrorCluster groups similar buffered errors under one fingerprint.
type ErrorCluster struct {
	Fingerprint string    `json:"fingerprint"`
	Pattern     string    `json:"pattern"`
	Count       int       `json:"count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Example     LogEntry  `json:"example"`
}

// HistoryQuery filters a historical day or range read.
type HistoryQuery struct {
	Search        string   `json:"search,omitempty"`
	MinLevel      *Level   `json:"min_level,omitempty"`
	Levels        []Level  `json:"levels,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	HasException  bool     `json:"has_exception,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Page          int      `json:"page,omitempty"`
	PageSize      int      `json:"page_size,omitempty"`
}

// LogPage is one page of historical log results.
type LogPage struct {
	Entries    []LogEntry `json:"entries"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalCount int        `json:"total_count"`
}

// SearchScope selects which audit event kinds a search covers.
type SearchScope struct {
	HTTPRequests bool `json:"http_requests"`
	Handlers     bool `json:"handlers"`
	Entities     bool `json:"entities"`
}

// AllScopes is the default search scope.
func AllScopes() SearchScope {
	return SearchScope{HTTPRequests: true, Handlers: true, Entities: true}
}

func (s SearchScope) Empty() bool {
	return !s.HTTPRequests && !s.Handlers && !s.Entities
}

// SearchRequest is a unified audit search. A supplied TenantID hard-scopes
// the search; it is never widened.
type SearchRequest struct {
	Term       string      `json:"term"`
	Scope      SearchScope `json:"scope"`
	TenantID   string      `json:"tenant_id,omitempty"`
	From       *time.Time  `json:"from,omitempty"`
	To         *time.Time  `json:"to,omitempty"`
	EntityType string      `json:"entity_type,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
	Page       int         `json:"page,omitempty"`
	PageSize   int         `json:"page_size,omitempty"`
}

// SearchHit is one ranked audit search result.
type SearchHit struct {
	Kind          AuditKind `json:"kind"`
	CorrelationID string    `json:"correlation_id"`
	Snippet       string    `json:"snippet"`
	Timestamp     time.Time `json:"timestamp"`
	Actor         string    `json:"actor,omitempty"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Rank          int       `json:"rank"`
}

// SearchResult is one page of ranked hits.
type SearchResult struct {
	Hits       []SearchHit `json:"hits"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalCount int         `json:"total_count"`
}

// EntityHistoryPage is one page of an entity's change history, newest first.
type EntityHistoryPage struct {
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Changes    []AuditEvent `json:"changes"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalCount int          `json:"total_count"`
}
