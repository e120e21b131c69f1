package audit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/opscope/opscope/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSearchEngine(t *testing.T) (*SearchEngine, *Recorder) {
	t.Helper()
	r := newTestRecorder(t)
	return NewSearchEngine(r), r
}

func TestSearchEmptyTermIsValidationError(t *testing.T) {
	engine, _ := newTestSearchEngine(t)
	for _, term := range []string{"", "   ", "\t"} {
		_, err := engine.Search(context.Background(), model.SearchRequest{Term: term})
		require.Error(t, err, "term %q", term)
	}
}

func TestSearchExactMatchOutranksSubstring(t *testing.T) {
	engine, r := newTestSearchEngine(t)

	// One handler named exactly "alice", one event merely mentioning alice
	// in its error detail.
	r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "")
	r.RecordHandler("cid-2", "NotifyTeam", false, "failed to email alice@example.com", time.Millisecond)

	result, err := engine.Search(context.Background(), model.SearchRequest{Term: "alice"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.TotalCount, 2)
	assert.Equal(t, "cid-1", result.Hits[0].CorrelationID)
	assert.Equal(t, rankExact, result.Hits[0].Rank)
	assert.Greater(t, result.Hits[0].Rank, result.Hits[1].Rank)
}

func TestSearchPrefixBeatsSubstring(t *testing.T) {
	engine, r := newTestSearchEngine(t)
	r.BeginRequest("cid-prefix", "GET", "/orders/list", "", "")
	r.BeginRequest("cid-sub", "GET", "/v1/orders", "", "")

	result, err := engine.Search(context.Background(), model.SearchRequest{Term: "/orders"})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalCount)
	assert.Equal(t, "cid-prefix", result.Hits[0].CorrelationID)
	assert.Equal(t, rankPrefix, result.Hits[0].Rank)
	assert.Equal(t, rankSubstring, result.Hits[1].Rank)
}

func TestSearchByCorrelationID(t *testing.T) {
	engine, r := newTestSearchEngine(t)
	r.BeginRequest("order-flow-42", "POST", "/v1/orders", "alice", "")

	result, err := engine.Search(context.Background(), model.SearchRequest{Term: "ORDER-FLOW-42"})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)
	assert.Equal(t, rankExact, result.Hits[0].Rank)
}

func TestSearchTenantScoping(t *testing.T) {
	engine, r := newTestSearchEngine(t)
	r.BeginRequest("cid-a", "POST", "/v1/orders", "alice", "tenant-a")
	r.BeginRequest("cid-b", "POST", "/v1/orders", "alice", "tenant-b")

	result, err := engine.Search(context.Background(), model.SearchRequest{Term: "alice", TenantID: "tenant-a"})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)
	assert.Equal(t, "tenant-a", result.Hits[0].TenantID)
}

func TestSearchScopeRestrictsKinds(t *testing.T) {
	engine, r := newTestSearchEngine(t)
	r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "")
	r.RecordHandler("cid-1", "alice-notifier", true, "", time.Millisecond)
	r.RecordEntityChange("cid-1", "Order", "o-1", model.OpCreate, `{"owner":"alice"}`, "alice")

	result, err := engine.Search(context.Background(), model.SearchRequest{
		Term:  "alice",
		Scope: model.SearchScope{Entities: true},
	})
	require.NoError(t, err)
	for _, hit := range result.Hits {
		assert.Equal(t, model.KindEntityChange, hit.Kind)
	}
	require.Equal(t, 1, result.TotalCount)

	// Empty scope defaults to everything.
	result, err = engine.Search(context.Background(), model.SearchRequest{Term: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalCount)
}

func TestSearchFilters(t *testing.T) {
	engine, r := newTestSearchEngine(t)
	r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "")
	r.RecordEntityChange("cid-1", "Order", "shared-id", model.OpCreate, "{}", "alice")
	r.RecordEntityChange("cid-1", "User", "shared-id", model.OpUpdate, "{}", "bob")

	result, err := engine.Search(context.Background(), model.SearchRequest{Term: "shared-id", EntityType: "User"})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)
	assert.Equal(t, "bob", result.Hits[0].Actor)

	result, err = engine.Search(context.Background(), model.SearchRequest{Term: "shared-id", UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalCount)

	future := time.Now().UTC().Add(time.Hour)
	result, err = engine.Search(context.Background(), model.SearchRequest{Term: "shared-id", From: &future})
	require.NoError(t, err)
	assert.Zero(t, result.TotalCount)
}

func TestSearchPaginationAndClamp(t *testing.T) {
	engine, r := newTestSearchEngine(t)
	for i := 0; i < 30; i++ {
		r.BeginRequest(fmt.Sprintf("cid-%02d", i), "GET", "/v1/widgets", "", "")
	}

	result, err := engine.Search(context.Background(), model.SearchRequest{Term: "/v1/widgets", Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 30, result.TotalCount)
	assert.Len(t, result.Hits, 10)

	result, err = engine.Search(context.Background(), model.SearchRequest{Term: "/v1/widgets", PageSize: 5000})
	require.NoError(t, err)
	assert.Equal(t, searchMaxPageSize, result.PageSize)

	// Pages past the end are empty, not an error.
	result, err = engine.Search(context.Background(), model.SearchRequest{Term: "/v1/widgets", Page: 9, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
	assert.Equal(t, 30, result.TotalCount)
}

func TestSearchHonorsCancellation(t *testing.T) {
	engine, r := newTestSearchEngine(t)
	r.BeginRequest("cid-1", "GET", "/v1/orders", "alice", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Search(ctx, model.SearchRequest{Term: "orders"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnippetStaysValidUTF8(t *testing.T) {
	engine, r := newTestSearchEngine(t)
	// Multi-byte runes on both sides of the match put the snippet window
	// edges inside a rune unless they are trimmed to boundaries.
	diff := strings.Repeat("€", 30) + "needle" + strings.Repeat("€", 30)
	r.RecordEntityChange("cid-1", "Order", "o-1", model.OpUpdate, diff, "alice")

	result, err := engine.Search(context.Background(), model.SearchRequest{Term: "needle"})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.True(t, utf8.ValidString(result.Hits[0].Snippet))
	assert.Contains(t, result.Hits[0].Snippet, "needle")
}
