package service

import (
	"testing"
	"time"

	"github.com/opscope/opscope/internal/logbuf"
	"github.com/opscope/opscope/internal/loglevel"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, level model.Level) (*LogPipeline, *logbuf.Ring, *stream.Broadcaster) {
	t.Helper()
	levels := loglevel.NewController(level)
	ring := logbuf.NewRing(100)
	broadcaster := stream.NewBroadcaster()
	p := NewLogPipeline(levels, ring, broadcaster, nil)
	t.Cleanup(func() {
		p.Stop()
		broadcaster.Close()
	})
	return p, ring, broadcaster
}

func TestEmitGatesBelowMinimumLevel(t *testing.T) {
	p, ring, _ := newTestPipeline(t, model.LevelWarning)

	p.Emit(model.LogEntry{Level: model.LevelInformation, Source: "Api", Message: "rejected"})
	p.Emit(model.LogEntry{Level: model.LevelError, Source: "Api", Message: "accepted"})

	entries := ring.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "accepted", entries[0].Message)
}

func TestEmitFillsZeroTimestamp(t *testing.T) {
	p, ring, _ := newTestPipeline(t, model.LevelVerbose)

	p.Emit(model.LogEntry{Level: model.LevelInformation, Source: "Api", Message: "stamped"})

	entries := ring.Snapshot()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), entries[0].Timestamp, time.Minute)
}

func TestEmitFansOutToSubscribers(t *testing.T) {
	p, _, broadcaster := newTestPipeline(t, model.LevelVerbose)
	sub := broadcaster.Subscribe(8)
	defer sub.Close()

	p.Emit(model.LogEntry{Level: model.LevelError, Source: "Api", Message: "live"})

	select {
	case event := <-sub.Events():
		assert.Equal(t, stream.EventLogEntry, event.Type)
		require.NotNil(t, event.Entry)
		assert.Equal(t, "live", event.Entry.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestLevelChangeIsBroadcast(t *testing.T) {
	levels := loglevel.NewController(model.LevelInformation)
	ring := logbuf.NewRing(10)
	broadcaster := stream.NewBroadcaster()
	defer broadcaster.Close()
	p := NewLogPipeline(levels, ring, broadcaster, nil)
	defer p.Stop()

	sub := broadcaster.Subscribe(8)
	defer sub.Close()

	require.NoError(t, levels.SetLevel(model.LevelDebug))

	select {
	case event := <-sub.Events():
		assert.Equal(t, stream.EventLevelChange, event.Type)
		require.NotNil(t, event.Level)
		assert.Equal(t, model.LevelDebug, *event.Level)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for level change event")
	}
}
