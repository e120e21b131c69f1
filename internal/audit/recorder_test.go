package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/opscope/opscope/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory Repo; the persist consumer writes into it and the
// fallback read paths serve from it.
type fakeRepo struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (f *fakeRepo) Insert(ctx context.Context, event *model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeRepo) UpdateRoot(ctx context.Context, event *model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == event.ID {
			f.events[i] = *event
		}
	}
	return nil
}

func (f *fakeRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]model.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AuditEvent
	for _, e := range f.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListEntityHistory(ctx context.Context, entityType, entityID string, limit, offset int) ([]model.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AuditEvent
	for _, e := range f.events {
		if e.Kind == model.KindEntityChange && e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (f *fakeRepo) DeleteOlderThan(ctx context.Context, tenantID, entityType string, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeCache struct {
	recent []string
}

func (f *fakeCache) Get(ctx context.Context, correlationID string) (*model.AuditTrail, bool) {
	return nil, false
}

func (f *fakeCache) Store(ctx context.Context, trail *model.AuditTrail) {}

func (f *fakeCache) Invalidate(ctx context.Context, correlationID string) {}

func (f *fakeCache) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r := NewRecorder(nil, nil)
	t.Cleanup(r.Close)
	return r
}

func TestTrailReconstruction(t *testing.T) {
	r := newTestRecorder(t)

	h := r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "tenant-a")
	r.RecordHandler("cid-1", "ValidateOrder", true, "", 3*time.Millisecond)
	r.RecordHandler("cid-1", "SaveOrder", false, "db timeout", 20*time.Millisecond)
	r.RecordEntityChange("cid-1", "Order", "order-9", model.OpCreate, `{"status":"new"}`, "alice")
	r.CompleteRequest(h, 500, 0)

	trail, ok := r.GetTrail(context.Background(), "cid-1")
	require.True(t, ok)
	assert.Equal(t, "cid-1", trail.CorrelationID)
	assert.Equal(t, "POST", trail.Request.Method)
	assert.Equal(t, 500, trail.Request.StatusCode)
	assert.Equal(t, 2, trail.Request.HandlerCount)
	assert.Equal(t, 1, trail.Request.EntityCount)
	require.Len(t, trail.Handlers, 2)
	assert.Equal(t, "ValidateOrder", trail.Handlers[0].HandlerName)
	assert.False(t, trail.Handlers[1].Success)
	assert.Equal(t, "db timeout", trail.Handlers[1].ErrorDetail)
	require.Len(t, trail.EntityChanges, 1)
	assert.Equal(t, 1, trail.EntityChanges[0].Version)
	// Children inherit the tenant from the root.
	assert.Equal(t, "tenant-a", trail.Handlers[0].TenantID)
	assert.Equal(t, "tenant-a", trail.EntityChanges[0].TenantID)
}

func TestGetTrailUnknownIDIsNotFound(t *testing.T) {
	r := newTestRecorder(t)
	trail, ok := r.GetTrail(context.Background(), "nope")
	assert.False(t, ok)
	assert.Nil(t, trail)
}

func TestBeginRequestGeneratesCorrelationID(t *testing.T) {
	r := newTestRecorder(t)
	h := r.BeginRequest("", "GET", "/health", "", "")
	require.NotEmpty(t, h.CorrelationID)
	_, ok := r.GetTrail(context.Background(), h.CorrelationID)
	assert.True(t, ok)
}

func TestOrphanChildGetsSyntheticRoot(t *testing.T) {
	r := newTestRecorder(t)
	r.RecordEntityChange("cid-job", "Invoice", "inv-1", model.OpUpdate, `{"paid":true}`, "scheduler")

	trail, ok := r.GetTrail(context.Background(), "cid-job")
	require.True(t, ok)
	assert.Equal(t, "JOB", trail.Request.Method)
	assert.Equal(t, "background", trail.Request.Path)
	require.Len(t, trail.EntityChanges, 1)

	// A later BeginRequest on the same id upgrades the synthetic root.
	r.BeginRequest("cid-job", "POST", "/v1/invoices", "alice", "")
	trail, ok = r.GetTrail(context.Background(), "cid-job")
	require.True(t, ok)
	assert.Equal(t, "POST", trail.Request.Method)
	require.Len(t, trail.EntityChanges, 1)
}

func TestEntityVersionsAdvancePerEntity(t *testing.T) {
	r := newTestRecorder(t)
	r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "")
	r.RecordEntityChange("cid-1", "Order", "order-1", model.OpCreate, "{}", "alice")
	r.RecordEntityChange("cid-1", "Order", "order-1", model.OpUpdate, "{}", "alice")
	r.RecordEntityChange("cid-1", "Order", "order-2", model.OpCreate, "{}", "alice")

	page := r.GetEntityHistory(context.Background(), "Order", "order-1", 1, 20)
	require.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 2, page.Changes[0].Version)
	assert.Equal(t, 1, page.Changes[1].Version)

	page = r.GetEntityHistory(context.Background(), "Order", "order-2", 1, 20)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 1, page.Changes[0].Version)
}

func TestEntityHistoryPagination(t *testing.T) {
	r := newTestRecorder(t)
	r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "")
	for i := 0; i < 25; i++ {
		r.RecordEntityChange("cid-1", "Order", "order-1", model.OpUpdate, fmt.Sprintf(`{"n":%d}`, i), "alice")
	}

	seen := make(map[int]bool)
	sizes := []int{10, 10, 5}
	for page := 1; page <= 3; page++ {
		p := r.GetEntityHistory(context.Background(), "Order", "order-1", page, 10)
		assert.Equal(t, 25, p.TotalCount)
		require.Len(t, p.Changes, sizes[page-1])
		for _, c := range p.Changes {
			assert.False(t, seen[c.Version], "version %d appeared twice", c.Version)
			seen[c.Version] = true
		}
		// Newest first within the page.
		for i := 1; i < len(p.Changes); i++ {
			assert.Greater(t, p.Changes[i-1].Version, p.Changes[i].Version)
		}
	}
	assert.Len(t, seen, 25)

	p := r.GetEntityHistory(context.Background(), "Order", "order-1", 4, 10)
	assert.Empty(t, p.Changes)
	assert.Equal(t, 25, p.TotalCount)
}

func TestDeleteOlderThanPurgesMatchingTrails(t *testing.T) {
	r := newTestRecorder(t)

	old := r.BeginRequest("cid-old", "POST", "/v1/orders", "alice", "tenant-a")
	r.RecordEntityChange("cid-old", "Order", "order-1", model.OpCreate, "{}", "alice")
	r.CompleteRequest(old, 200, 0)

	cutoff := time.Now().UTC().Add(time.Second)

	r.BeginRequest("cid-new", "GET", "/v1/orders", "bob", "tenant-a")

	// Both roots were created within the same second, so pin the timestamps
	// on either side of the cutoff.
	r.mu.Lock()
	r.trails["cid-old"].root.Timestamp = time.Now().UTC().Add(-time.Hour)
	r.trails["cid-new"].root.Timestamp = time.Now().UTC().Add(time.Hour)
	r.mu.Unlock()

	removed, err := r.DeleteOlderThan(context.Background(), "", "", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok := r.GetTrail(context.Background(), "cid-old")
	assert.False(t, ok)
	_, ok = r.GetTrail(context.Background(), "cid-new")
	assert.True(t, ok)

	// The purged trail's entity history goes with it.
	page := r.GetEntityHistory(context.Background(), "Order", "order-1", 1, 20)
	assert.Zero(t, page.TotalCount)
}

func TestDeleteOlderThanScopesByTenantAndEntityType(t *testing.T) {
	r := newTestRecorder(t)
	r.BeginRequest("cid-a", "POST", "/v1/orders", "alice", "tenant-a")
	r.RecordEntityChange("cid-a", "Order", "o-1", model.OpCreate, "{}", "alice")
	r.BeginRequest("cid-b", "POST", "/v1/users", "bob", "tenant-b")
	r.RecordEntityChange("cid-b", "User", "u-1", model.OpCreate, "{}", "bob")

	cutoff := time.Now().UTC().Add(time.Hour)

	removed, err := r.DeleteOlderThan(context.Background(), "tenant-a", "", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	_, ok := r.GetTrail(context.Background(), "cid-b")
	assert.True(t, ok)

	// Entity-type scoping only removes trails touching that type.
	removed, err = r.DeleteOlderThan(context.Background(), "", "Order", cutoff)
	require.NoError(t, err)
	assert.Zero(t, removed)
	removed, err = r.DeleteOlderThan(context.Background(), "", "User", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestEvictionAtCapacity(t *testing.T) {
	r := newTestRecorder(t)
	r.maxTrails = 3

	for i := 0; i < 4; i++ {
		r.BeginRequest(fmt.Sprintf("cid-%d", i), "GET", "/v1/orders", "", "")
	}

	_, ok := r.GetTrail(context.Background(), "cid-0")
	assert.False(t, ok, "oldest trail should be evicted")
	for i := 1; i < 4; i++ {
		_, ok := r.GetTrail(context.Background(), fmt.Sprintf("cid-%d", i))
		assert.True(t, ok)
	}
}

func TestGetTrailFallsBackToRepoAfterEviction(t *testing.T) {
	repo := &fakeRepo{}
	r := NewRecorder(repo, nil)
	r.maxTrails = 1

	h := r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "tenant-a")
	r.RecordHandler("cid-1", "SaveOrder", true, "", time.Millisecond)
	r.RecordEntityChange("cid-1", "Order", "order-1", model.OpCreate, "{}", "alice")
	r.CompleteRequest(h, 201, 0)

	// Evicts cid-1 from the arena; the rows are already queued for the repo.
	r.BeginRequest("cid-2", "GET", "/v1/orders", "bob", "tenant-a")
	r.Close() // flush the persist queue

	trail, ok := r.GetTrail(context.Background(), "cid-1")
	require.True(t, ok, "evicted trail should load from the repo")
	assert.Equal(t, 201, trail.Request.StatusCode)
	require.Len(t, trail.Handlers, 1)
	assert.Equal(t, "SaveOrder", trail.Handlers[0].HandlerName)
	require.Len(t, trail.EntityChanges, 1)
	assert.Equal(t, "order-1", trail.EntityChanges[0].EntityID)
}

func TestEntityHistoryServedFromRepoWhenArenaEmpty(t *testing.T) {
	repo := &fakeRepo{}
	r := NewRecorder(repo, nil)
	r.maxTrails = 1

	r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "")
	for i := 0; i < 3; i++ {
		r.RecordEntityChange("cid-1", "Order", "order-1", model.OpUpdate, "{}", "alice")
	}
	r.BeginRequest("cid-2", "GET", "/v1/orders", "bob", "")
	r.Close()

	page := r.GetEntityHistory(context.Background(), "Order", "order-1", 1, 10)
	require.Len(t, page.Changes, 3)
	assert.Equal(t, 3, page.Changes[0].Version)
	assert.Equal(t, 3, page.TotalCount)
}

func TestRecentTrailsNewestFirst(t *testing.T) {
	r := newTestRecorder(t)
	for i := 0; i < 3; i++ {
		r.BeginRequest(fmt.Sprintf("cid-%d", i), "GET", "/health", "", "")
	}

	assert.Equal(t, []string{"cid-2", "cid-1"}, r.RecentTrails(context.Background(), 2))
	assert.Equal(t, []string{"cid-2", "cid-1", "cid-0"}, r.RecentTrails(context.Background(), 0))
}

func TestRecentTrailsPrefersCache(t *testing.T) {
	r := NewRecorder(nil, &fakeCache{recent: []string{"cid-z", "cid-y"}})
	t.Cleanup(r.Close)
	r.BeginRequest("cid-memory", "GET", "/health", "", "")

	assert.Equal(t, []string{"cid-z", "cid-y"}, r.RecentTrails(context.Background(), 10))
}

func TestCloseRacesRecording(t *testing.T) {
	r := NewRecorder(&fakeRepo{}, nil)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.BeginRequest(fmt.Sprintf("cid-%d-%d", g, i), "GET", "/health", "", "")
			}
		}(g)
	}
	// Closing while recording calls are mid-flight must not panic, and a
	// second Close must be a no-op.
	r.Close()
	r.Close()
	wg.Wait()
}

func TestEventsSnapshotContainsAllKinds(t *testing.T) {
	r := newTestRecorder(t)
	h := r.BeginRequest("cid-1", "POST", "/v1/orders", "alice", "")
	r.RecordHandler("cid-1", "SaveOrder", true, "", time.Millisecond)
	r.RecordEntityChange("cid-1", "Order", "o-1", model.OpCreate, "{}", "alice")
	r.CompleteRequest(h, 201, 0)

	events := r.EventsSnapshot()
	require.Len(t, events, 3)
	kinds := map[model.AuditKind]int{}
	for _, e := range events {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[model.KindHTTPRequest])
	assert.Equal(t, 1, kinds[model.KindHandler])
	assert.Equal(t, 1, kinds[model.KindEntityChange])
}
