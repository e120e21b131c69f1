package service

import (
	"time"

	"github.com/opscope/opscope/internal/history"
	"github.com/opscope/opscope/internal/logbuf"
	"github.com/opscope/opscope/internal/loglevel"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/metrics"
	"github.com/opscope/opscope/internal/stream"
)

// LogPipeline is the single entry point for produced log lines: the level
// gate runs first, then the accepted entry fans out to the ring buffer, the
// live broadcaster and the historical store. Emit never blocks on I/O; the
// history append is queued and the broadcast is drop-on-full.
type LogPipeline struct {
	levels       *loglevel.Controller
	ring         *logbuf.Ring
	broadcaster  *stream.Broadcaster
	historyStore *history.Store

	statsTicker *time.Ticker
	stopStats   chan struct{}
}

func NewLogPipeline(levels *loglevel.Controller, ring *logbuf.Ring, broadcaster *stream.Broadcaster, historyStore *history.Store) *LogPipeline {
	p := &LogPipeline{
		levels:       levels,
		ring:         ring,
		broadcaster:  broadcaster,
		historyStore: historyStore,
		stopStats:    make(chan struct{}),
	}
	// Level and override changes reach live observers without polling.
	levels.OnChange(func(level model.Level) {
		broadcaster.PublishLevelChange(level)
	})
	return p
}

// Emit runs one entry through the gate and, if accepted, through the fan-out.
// This is the hot path: one atomic load for the gate, one short mutex hold
// for the ring, everything else fire-and-continue.
func (p *LogPipeline) Emit(entry model.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if !p.levels.ShouldAccept(entry.Source, entry.Level) {
		metrics.EntriesRejected.Inc()
		return
	}
	metrics.EntriesAccepted.WithLabelValues(entry.Level.String()).Inc()

	p.ring.Append(entry)
	p.broadcaster.PublishEntry(entry)
	if p.historyStore != nil {
		p.historyStore.Append(entry)
	}
}

// StartStatsPush broadcasts buffer stats on a fixed interval until Stop.
func (p *LogPipeline) StartStatsPush(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	p.statsTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-p.statsTicker.C:
				p.broadcaster.PublishStats(p.ring.Stats())
			case <-p.stopStats:
				return
			}
		}
	}()
}

func (p *LogPipeline) Stop() {
	if p.statsTicker != nil {
		p.statsTicker.Stop()
		close(p.stopStats)
	}
}
