package audit

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
	"github.com/opscope/opscope/internal/pkg/metrics"
)

// Rank weights. Exact field matches always outrank prefix matches, which
// outrank plain substring hits; recency only breaks ties.
const (
	rankExact     = 100
	rankPrefix    = 40
	rankSubstring = 10
)

const searchMaxPageSize = 100

// SearchEngine ranks audit events against a free-text term. It works over the
// recorder's in-memory snapshot; results are always paginated server-side.
type SearchEngine struct {
	recorder *Recorder
}

func NewSearchEngine(recorder *Recorder) *SearchEngine {
	return &SearchEngine{recorder: recorder}
}

// Search scans the selected event kinds and returns one page of ranked hits.
// A supplied tenant id hard-scopes the search and is never widened. Empty or
// whitespace-only terms are a validation error.
func (e *SearchEngine) Search(ctx context.Context, req model.SearchRequest) (*model.SearchResult, error) {
	term := strings.TrimSpace(req.Term)
	if term == "" {
		return nil, apperrors.NewValidation("search term must not be empty")
	}
	scope := req.Scope
	if scope.Empty() {
		scope = model.AllScopes()
	}
	page, pageSize := req.Page, req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > searchMaxPageSize {
		pageSize = searchMaxPageSize
	}

	started := time.Now()
	defer func() {
		metrics.SearchLatency.WithLabelValues("audit").Observe(time.Since(started).Seconds())
	}()

	lowered := strings.ToLower(term)
	events := e.recorder.EventsSnapshot()

	var hits []model.SearchHit
	for i, event := range events {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !inScope(event.Kind, scope) {
			continue
		}
		if req.TenantID != "" && event.TenantID != req.TenantID {
			continue
		}
		if req.From != nil && event.Timestamp.Before(*req.From) {
			continue
		}
		if req.To != nil && event.Timestamp.After(*req.To) {
			continue
		}
		if req.EntityType != "" && event.EntityType != req.EntityType {
			continue
		}
		if req.UserID != "" && event.Actor != req.UserID {
			continue
		}
		rank, snippet := rankEvent(event, term, lowered)
		if rank == 0 {
			continue
		}
		hits = append(hits, model.SearchHit{
			Kind:          event.Kind,
			CorrelationID: event.CorrelationID,
			Snippet:       snippet,
			Timestamp:     event.Timestamp,
			Actor:         event.Actor,
			TenantID:      event.TenantID,
			Rank:          rank,
		})
	}

	// Rank descending, then newest, then correlation id for a stable order.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Rank != hits[j].Rank {
			return hits[i].Rank > hits[j].Rank
		}
		if !hits[i].Timestamp.Equal(hits[j].Timestamp) {
			return hits[i].Timestamp.After(hits[j].Timestamp)
		}
		return hits[i].CorrelationID < hits[j].CorrelationID
	})

	total := len(hits)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return &model.SearchResult{
		Hits:       hits[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}, nil
}

func inScope(kind model.AuditKind, scope model.SearchScope) bool {
	switch kind {
	case model.KindHTTPRequest:
		return scope.HTTPRequests
	case model.KindHandler:
		return scope.Handlers
	case model.KindEntityChange:
		return scope.Entities
	default:
		return false
	}
}

// rankEvent scores one event against the term. Identity-like fields score as
// exact or prefix matches; free-text fields only ever score as substrings.
func rankEvent(event model.AuditEvent, term, lowered string) (int, string) {
	exactFields := []string{event.CorrelationID, event.EntityID, event.Actor, event.HandlerName, event.Path, event.ID}
	best := 0
	snippet := ""

	for _, field := range exactFields {
		if field == "" {
			continue
		}
		switch {
		case strings.EqualFold(field, term):
			return rankExact, field
		case strings.HasPrefix(strings.ToLower(field), lowered):
			if rankPrefix > best {
				best, snippet = rankPrefix, field
			}
		case strings.Contains(strings.ToLower(field), lowered):
			if rankSubstring > best {
				best, snippet = rankSubstring, field
			}
		}
	}

	for _, field := range []string{event.Method, event.EntityType, event.ErrorDetail, event.Diff} {
		if field == "" {
			continue
		}
		if idx := strings.Index(strings.ToLower(field), lowered); idx >= 0 {
			if rankSubstring > best {
				best, snippet = rankSubstring, contextSnippet(field, idx, len(term))
			}
		}
	}
	return best, snippet
}

// contextSnippet returns a short window around the match position. The
// window edges are byte offsets and must not split a multi-byte rune.
func contextSnippet(text string, idx, matchLen int) string {
	const margin = 40
	start := idx - margin
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + margin
	if end > len(text) {
		end = len(text)
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	snippet := text[start:end]
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(text) {
		snippet += "…"
	}
	return snippet
}
