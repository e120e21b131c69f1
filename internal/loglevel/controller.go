// Package loglevel holds the runtime-mutable severity configuration: one
// global minimum level plus per-source-prefix overrides.
package loglevel

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
)

// snapshot is the immutable view read on every ShouldAccept call. Mutations
// build a fresh snapshot and publish it atomically, so the accept path never
// takes a lock.
type snapshot struct {
	global model.Level
	// overrides sorted by prefix length descending, so the first segment-aware
	// match is the longest one.
	overrides []model.LevelOverride
}

// Controller gates every emitted log line. Reads are lock-free; mutations are
// serialized by a mutex and then published.
type Controller struct {
	current atomic.Pointer[snapshot]

	mu        sync.Mutex
	byPrefix  map[string]model.Level
	listeners []func(model.Level)
}

func NewController(global model.Level) *Controller {
	c := &Controller{byPrefix: make(map[string]model.Level)}
	c.current.Store(&snapshot{global: global})
	return c
}

// Level returns the current global minimum level.
func (c *Controller) Level() model.Level {
	return c.current.Load().global
}

// SetLevel replaces the global minimum level and notifies listeners.
func (c *Controller) SetLevel(level model.Level) error {
	if !level.Valid() {
		return apperrors.NewValidation("unknown log level")
	}
	c.mu.Lock()
	c.publish(level)
	listeners := c.listeners
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(level)
	}
	return nil
}

// Overrides returns the override set sorted by prefix.
func (c *Controller) Overrides() []model.LevelOverride {
	snap := c.current.Load()
	out := make([]model.LevelOverride, len(snap.overrides))
	copy(out, snap.overrides)
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

// SetOverride installs or replaces the override for an exact prefix string.
func (c *Controller) SetOverride(prefix string, level model.Level) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return apperrors.NewValidation("override prefix must not be empty")
	}
	if !level.Valid() {
		return apperrors.NewValidation("unknown log level")
	}
	c.mu.Lock()
	c.byPrefix[prefix] = level
	c.publish(c.current.Load().global)
	listeners := c.listeners
	global := c.current.Load().global
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(global)
	}
	return nil
}

// RemoveOverride deletes the override for an exact prefix string.
func (c *Controller) RemoveOverride(prefix string) error {
	c.mu.Lock()
	if _, ok := c.byPrefix[prefix]; !ok {
		c.mu.Unlock()
		return apperrors.NewNotFound("no override for prefix " + prefix)
	}
	delete(c.byPrefix, prefix)
	c.publish(c.current.Load().global)
	listeners := c.listeners
	global := c.current.Load().global
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(global)
	}
	return nil
}

// OnChange registers a callback invoked after every level or override
// mutation. Callbacks run on the mutating goroutine and must not block.
func (c *Controller) OnChange(fn func(model.Level)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// ShouldAccept is the hot-path gate: the longest matching override wins,
// otherwise the global level applies. Called once per emitted line; does a
// single atomic load and a linear scan of the (small) override list.
func (c *Controller) ShouldAccept(source string, level model.Level) bool {
	snap := c.current.Load()
	for _, ov := range snap.overrides {
		if matchesPrefix(source, ov.Prefix) {
			return level >= ov.Level
		}
	}
	return level >= snap.global
}

// publish rebuilds the snapshot from byPrefix. Caller holds c.mu.
func (c *Controller) publish(global model.Level) {
	overrides := make([]model.LevelOverride, 0, len(c.byPrefix))
	for prefix, level := range c.byPrefix {
		overrides = append(overrides, model.LevelOverride{Prefix: prefix, Level: level})
	}
	// Longest prefix first; ties broken lexically for determinism.
	sort.Slice(overrides, func(i, j int) bool {
		if len(overrides[i].Prefix) != len(overrides[j].Prefix) {
			return len(overrides[i].Prefix) > len(overrides[j].Prefix)
		}
		return overrides[i].Prefix < overrides[j].Prefix
	})
	c.current.Store(&snapshot{global: global, overrides: overrides})
}

// matchesPrefix is segment-aware: "A.B" matches "A.B" and "A.B.C" but never
// "A.BC".
func matchesPrefix(source, prefix string) bool {
	if source == prefix {
		return true
	}
	return len(source) > len(prefix) &&
		strings.HasPrefix(source, prefix) &&
		source[len(prefix)] == '.'
}
