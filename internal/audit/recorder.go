// Package audit builds and serves the three-level operation trail: one
// http_request root per correlation id with handler executions and entity
// changes hanging off it.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/logger"
	"github.com/opscope/opscope/internal/pkg/metrics"
)

// Repo is the durable sink for audit events. Optional: without one the
// recorder is memory-only. The read methods back reads that miss the
// in-memory arena after eviction.
type Repo interface {
	Insert(ctx context.Context, event *model.AuditEvent) error
	UpdateRoot(ctx context.Context, event *model.AuditEvent) error
	ListByCorrelation(ctx context.Context, correlationID string) ([]model.AuditEvent, error)
	ListEntityHistory(ctx context.Context, entityType, entityID string, limit, offset int) ([]model.AuditEvent, error)
	DeleteOlderThan(ctx context.Context, tenantID, entityType string, cutoff time.Time) (int64, error)
}

// TrailCache is an optional fast lookup tier for recently completed trails.
type TrailCache interface {
	Get(ctx context.Context, correlationID string) (*model.AuditTrail, bool)
	Store(ctx context.Context, trail *model.AuditTrail)
	Invalidate(ctx context.Context, correlationID string)
	Recent(ctx context.Context, limit int) ([]string, error)
}

// Handle identifies one in-flight logical operation.
type Handle struct {
	CorrelationID string
	startedAt     time.Time
}

const (
	defaultMaxTrails = 10000
	maxPageSize      = 500
)

// Recorder appends immutable audit events into a correlation-indexed arena
// and, when a repo is attached, persists them through a bounded async queue so
// the recording path never blocks on the database.
type Recorder struct {
	mu        sync.Mutex
	trails    map[string]*trail
	order     []string // correlation ids, oldest first, bounds memory
	byEntity  map[entityKey][]model.AuditEvent
	versions  map[entityKey]int
	maxTrails int

	repo    Repo
	cache   TrailCache
	persist chan persistOp
	done    chan struct{}

	persistMu     sync.RWMutex // excludes Close from in-flight enqueue sends
	persistClosed bool
}

type trail struct {
	root     *model.AuditEvent
	handlers []model.AuditEvent
	entities []model.AuditEvent
}

type entityKey struct {
	entityType string
	entityID   string
}

type persistOp struct {
	event  model.AuditEvent
	update bool
}

func NewRecorder(repo Repo, cache TrailCache) *Recorder {
	r := &Recorder{
		trails:    make(map[string]*trail),
		byEntity:  make(map[entityKey][]model.AuditEvent),
		versions:  make(map[entityKey]int),
		maxTrails: defaultMaxTrails,
		repo:      repo,
		cache:     cache,
		persist:   make(chan persistOp, 1000),
		done:      make(chan struct{}),
	}
	go r.processPersist()
	return r
}

// BeginRequest opens the root event for one logical operation. An empty
// correlation id gets a fresh UUID. Background jobs call this too, with
// method "JOB" and the job name as path.
func (r *Recorder) BeginRequest(correlationID, method, path, actor, tenantID string) Handle {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	now := time.Now().UTC()
	root := &model.AuditEvent{
		ID:            uuid.New().String(),
		Kind:          model.KindHTTPRequest,
		CorrelationID: correlationID,
		TenantID:      tenantID,
		Actor:         actor,
		Timestamp:     now,
		Method:        method,
		Path:          path,
	}

	r.mu.Lock()
	r.insertRootLocked(correlationID, root)
	r.mu.Unlock()

	metrics.AuditEventsRecorded.WithLabelValues(string(model.KindHTTPRequest)).Inc()
	r.enqueue(persistOp{event: *root})
	return Handle{CorrelationID: correlationID, startedAt: now}
}

// RecordHandler appends a handler execution under the correlation id.
func (r *Recorder) RecordHandler(correlationID, handlerName string, success bool, errDetail string, duration time.Duration) {
	event := model.AuditEvent{
		ID:            uuid.New().String(),
		Kind:          model.KindHandler,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		HandlerName:   handlerName,
		Success:       success,
		ErrorDetail:   errDetail,
		DurationMs:    duration.Milliseconds(),
	}

	r.mu.Lock()
	t := r.trailLocked(correlationID)
	event.TenantID = t.root.TenantID
	t.handlers = append(t.handlers, event)
	r.mu.Unlock()

	metrics.AuditEventsRecorded.WithLabelValues(string(model.KindHandler)).Inc()
	r.enqueue(persistOp{event: event})
}

// RecordEntityChange appends an entity diff under the correlation id and
// advances that entity's version number.
func (r *Recorder) RecordEntityChange(correlationID, entityType, entityID string, op model.EntityOperation, diff, actor string) {
	event := model.AuditEvent{
		ID:            uuid.New().String(),
		Kind:          model.KindEntityChange,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		EntityType:    entityType,
		EntityID:      entityID,
		Operation:     op,
		Diff:          diff,
		Actor:         actor,
	}

	key := entityKey{entityType: entityType, entityID: entityID}

	r.mu.Lock()
	t := r.trailLocked(correlationID)
	event.TenantID = t.root.TenantID
	r.versions[key]++
	event.Version = r.versions[key]
	t.entities = append(t.entities, event)
	r.byEntity[key] = append(r.byEntity[key], event)
	r.mu.Unlock()

	metrics.AuditEventsRecorded.WithLabelValues(string(model.KindEntityChange)).Inc()
	r.enqueue(persistOp{event: event})
}

// CompleteRequest stamps the root with its outcome and child counts. The root
// row is the single exception to append-only: it is finalized exactly once.
func (r *Recorder) CompleteRequest(h Handle, statusCode int, durationMs int64) {
	if durationMs <= 0 {
		durationMs = time.Since(h.startedAt).Milliseconds()
	}

	r.mu.Lock()
	t, ok := r.trails[h.CorrelationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	t.root.StatusCode = statusCode
	t.root.DurationMs = durationMs
	t.root.HandlerCount = len(t.handlers)
	t.root.EntityCount = len(t.entities)
	root := *t.root
	r.mu.Unlock()

	if r.cache != nil {
		r.cache.Invalidate(context.Background(), h.CorrelationID)
	}
	r.enqueue(persistOp{event: root, update: true})
}

// GetTrail reconstructs the full tree for a correlation id. Memory misses
// fall back to the repo, so evicted trails stay reachable while persisted.
// Unknown ids are a not-found result, not an error: callers routinely ask
// for trails that may not exist.
func (r *Recorder) GetTrail(ctx context.Context, correlationID string) (*model.AuditTrail, bool) {
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, correlationID); ok {
			return cached, true
		}
	}

	r.mu.Lock()
	t, ok := r.trails[correlationID]
	var result *model.AuditTrail
	if ok {
		result = &model.AuditTrail{
			CorrelationID: correlationID,
			Request:       cloneEvent(t.root),
			Handlers:      append([]model.AuditEvent(nil), t.handlers...),
			EntityChanges: append([]model.AuditEvent(nil), t.entities...),
		}
	}
	r.mu.Unlock()

	if result == nil {
		result, ok = r.trailFromRepo(ctx, correlationID)
		if !ok {
			return nil, false
		}
	}

	sortByTimestamp(result.Handlers)
	sortByTimestamp(result.EntityChanges)

	if r.cache != nil && result.Request.StatusCode != 0 {
		r.cache.Store(ctx, result)
	}
	return result, true
}

// trailFromRepo rebuilds a trail from persisted rows after the in-memory
// arena has evicted it.
func (r *Recorder) trailFromRepo(ctx context.Context, correlationID string) (*model.AuditTrail, bool) {
	if r.repo == nil {
		return nil, false
	}
	events, err := r.repo.ListByCorrelation(ctx, correlationID)
	if err != nil {
		logger.Error("failed to load audit trail from repository", "correlation_id", correlationID, "error", err)
		return nil, false
	}
	result := &model.AuditTrail{CorrelationID: correlationID}
	for i := range events {
		switch events[i].Kind {
		case model.KindHTTPRequest:
			result.Request = cloneEvent(&events[i])
		case model.KindHandler:
			result.Handlers = append(result.Handlers, events[i])
		case model.KindEntityChange:
			result.EntityChanges = append(result.EntityChanges, events[i])
		}
	}
	if result.Request == nil {
		return nil, false
	}
	return result, true
}

// GetEntityHistory returns one entity's change rows, newest first. When the
// arena holds nothing for the entity, the repo serves the page instead.
func (r *Recorder) GetEntityHistory(ctx context.Context, entityType, entityID string, page, pageSize int) *model.EntityHistoryPage {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	key := entityKey{entityType: entityType, entityID: entityID}

	r.mu.Lock()
	all := append([]model.AuditEvent(nil), r.byEntity[key]...)
	r.mu.Unlock()

	if len(all) == 0 && r.repo != nil {
		return r.entityHistoryFromRepo(ctx, entityType, entityID, page, pageSize)
	}

	// Newest first; equal timestamps fall back to version descending.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.After(all[j].Timestamp)
		}
		return all[i].Version > all[j].Version
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return &model.EntityHistoryPage{
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    all[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}
}

// entityHistoryFromRepo pages change rows straight from the repo. TotalCount
// is a floor here; the repo page carries no full count.
func (r *Recorder) entityHistoryFromRepo(ctx context.Context, entityType, entityID string, page, pageSize int) *model.EntityHistoryPage {
	offset := (page - 1) * pageSize
	rows, err := r.repo.ListEntityHistory(ctx, entityType, entityID, pageSize, offset)
	if err != nil {
		logger.Error("failed to load entity history from repository",
			"entity_type", entityType, "entity_id", entityID, "error", err)
		rows = nil
	}
	return &model.EntityHistoryPage{
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    rows,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: offset + len(rows),
	}
}

// RecentTrails returns the most recently seen correlation ids, newest first.
// Served from the cache's recent list when one is attached, otherwise from
// the arena's insertion order.
func (r *Recorder) RecentTrails(ctx context.Context, limit int) []string {
	if limit <= 0 || limit > maxPageSize {
		limit = 50
	}
	if r.cache != nil {
		if ids, err := r.cache.Recent(ctx, limit); err == nil {
			return ids
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.order)
	if limit > n {
		limit = n
	}
	ids := make([]string, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		ids = append(ids, r.order[i])
	}
	return ids
}

// DeleteOlderThan purges events whose root began before cutoff. This is the
// deletion contract consumed by retention enforcement. Returns the larger of
// the memory and repo delete counts.
func (r *Recorder) DeleteOlderThan(ctx context.Context, tenantID, entityType string, cutoff time.Time) (int64, error) {
	var removed int64

	r.mu.Lock()
	kept := r.order[:0]
	for _, cid := range r.order {
		t := r.trails[cid]
		if t == nil {
			continue
		}
		match := t.root.Timestamp.Before(cutoff) &&
			(tenantID == "" || t.root.TenantID == tenantID) &&
			(entityType == "" || trailTouchesEntity(t, entityType))
		if !match {
			kept = append(kept, cid)
			continue
		}
		r.dropTrailLocked(cid, t)
		removed++
	}
	r.order = kept
	r.mu.Unlock()

	if r.repo != nil {
		n, err := r.repo.DeleteOlderThan(ctx, tenantID, entityType, cutoff)
		if err != nil {
			return removed, err
		}
		if n > removed {
			removed = n
		}
	}
	return removed, nil
}

// EventsSnapshot copies every in-memory event for the search engine. The copy
// is taken under the lock; ranking runs outside it.
func (r *Recorder) EventsSnapshot() []model.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditEvent
	for _, cid := range r.order {
		t := r.trails[cid]
		if t == nil {
			continue
		}
		out = append(out, *t.root)
		out = append(out, t.handlers...)
		out = append(out, t.entities...)
	}
	return out
}

// Close flushes pending persistence work. Safe to call concurrently with the
// recording methods and safe to call twice.
func (r *Recorder) Close() {
	r.persistMu.Lock()
	if r.persistClosed {
		r.persistMu.Unlock()
		return
	}
	r.persistClosed = true
	r.persistMu.Unlock()
	close(r.persist)
	<-r.done
}

// trailLocked finds or creates the trail for a correlation id. A child event
// arriving before any BeginRequest gets a synthetic job-shaped root, so
// trails never orphan children.
func (r *Recorder) trailLocked(correlationID string) *trail {
	if t, ok := r.trails[correlationID]; ok {
		return t
	}
	root := &model.AuditEvent{
		ID:            uuid.New().String(),
		Kind:          model.KindHTTPRequest,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Method:        "JOB",
		Path:          "background",
	}
	r.insertRootLocked(correlationID, root)
	return r.trails[correlationID]
}

func (r *Recorder) insertRootLocked(correlationID string, root *model.AuditEvent) {
	if existing, ok := r.trails[correlationID]; ok {
		// Re-begin on a synthetic root upgrades it in place.
		existing.root = root
		return
	}
	if len(r.order) >= r.maxTrails {
		oldest := r.order[0]
		r.order = r.order[1:]
		if t := r.trails[oldest]; t != nil {
			r.dropTrailLocked(oldest, t)
		}
	}
	r.trails[correlationID] = &trail{root: root}
	r.order = append(r.order, correlationID)
}

func (r *Recorder) dropTrailLocked(correlationID string, t *trail) {
	for _, e := range t.entities {
		key := entityKey{entityType: e.EntityType, entityID: e.EntityID}
		refs := r.byEntity[key]
		filtered := refs[:0]
		for _, ref := range refs {
			if ref.CorrelationID != correlationID {
				filtered = append(filtered, ref)
			}
		}
		if len(filtered) == 0 {
			delete(r.byEntity, key)
		} else {
			r.byEntity[key] = filtered
		}
	}
	delete(r.trails, correlationID)
}

func (r *Recorder) enqueue(op persistOp) {
	if r.repo == nil {
		return
	}
	r.persistMu.RLock()
	defer r.persistMu.RUnlock()
	if r.persistClosed {
		return
	}
	select {
	case r.persist <- op:
	default:
		logger.Warn("audit persistence queue full, dropping event", "correlation_id", op.event.CorrelationID)
	}
}

func (r *Recorder) processPersist() {
	defer close(r.done)
	for op := range r.persist {
		var err error
		if op.update {
			err = r.repo.UpdateRoot(context.Background(), &op.event)
		} else {
			err = r.repo.Insert(context.Background(), &op.event)
		}
		if err != nil {
			logger.Error("failed to persist audit event", "kind", op.event.Kind, "error", err)
		}
	}
}

func trailTouchesEntity(t *trail, entityType string) bool {
	for _, e := range t.entities {
		if e.EntityType == entityType {
			return true
		}
	}
	return false
}

func cloneEvent(e *model.AuditEvent) *model.AuditEvent {
	c := *e
	return &c
}

func sortByTimestamp(events []model.AuditEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}
