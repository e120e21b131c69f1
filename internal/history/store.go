// Package history is the durable, date-partitioned log store. One JSONL file
// per calendar day; a day's file is append-only and, once the day has passed,
// immutable.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/apperrors"
	"github.com/opscope/opscope/internal/pkg/logger"
	"github.com/opscope/opscope/internal/pkg/metrics"
)

const (
	DateFormat   = "2006-01-02"
	filePrefix   = "logs-"
	fileSuffix   = ".jsonl"
	MaxPageSize  = 500
	MaxRangeDays = 30
)

// Store appends accepted log entries to per-day JSONL partitions and serves
// filtered day and range reads. Writes go through a bounded queue consumed by
// a single goroutine, so producers never block on disk I/O; reads of the
// current day may trail the most recent appends slightly.
type Store struct {
	dir   string
	queue chan model.LogEntry
	done  chan struct{}

	mu     sync.RWMutex // excludes Close from in-flight Append sends
	closed bool
}

func NewStore(dir string, queueSize int) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	s := &Store{
		dir:   dir,
		queue: make(chan model.LogEntry, queueSize),
		done:  make(chan struct{}),
	}
	go s.consume()
	return s, nil
}

// Append enqueues one entry for persistence. Never blocks: if the queue is
// full the entry is dropped and counted. No log line on the drop path; the
// logger tees back into this queue and a full queue would recurse.
func (s *Store) Append(entry model.LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- entry:
	default:
		metrics.HistoryLinesDropped.Inc()
	}
}

// Close drains the queue and stops the consumer. Safe to call concurrently
// with Append and safe to call twice.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.queue)
	<-s.done
}

func (s *Store) consume() {
	defer close(s.done)

	var (
		file    *os.File
		encoder *json.Encoder
		day     string
	)
	for entry := range s.queue {
		entryDay := entry.Timestamp.UTC().Format(DateFormat)
		if file == nil || entryDay != day {
			if file != nil {
				file.Close()
			}
			f, err := os.OpenFile(s.pathFor(entryDay), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				logger.Error("failed to open history partition", "date", entryDay, "error", err)
				continue
			}
			file, encoder, day = f, json.NewEncoder(f), entryDay
		}
		if err := encoder.Encode(entry); err != nil {
			logger.Error("failed to write history line", "error", err)
			continue
		}
		metrics.HistoryLinesWritten.Inc()
	}
	if file != nil {
		file.Close()
	}
}

// AvailableDates lists days with persisted data, ascending. A directory
// listing, not a data scan.
func (s *Store) AvailableDates() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if _, err := time.Parse(DateFormat, date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// Logs returns one page of a single day's entries matching the query. Page
// sizes above MaxPageSize are clamped, not rejected.
func (s *Store) Logs(ctx context.Context, date string, query model.HistoryQuery) (*model.LogPage, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	page, pageSize := normalizePage(query.Page, query.PageSize)

	matched, err := s.scanDay(ctx, day, query)
	if err != nil {
		return nil, err
	}
	return paginate(matched, page, pageSize), nil
}

// Search runs the same filters across an inclusive date range. Ranges wider
// than MaxRangeDays are rejected outright; the scan cost must stay bounded.
func (s *Store) Search(ctx context.Context, fromDate, toDate string, query model.HistoryQuery) (*model.LogPage, error) {
	from, to, err := parseRange(fromDate, toDate)
	if err != nil {
		return nil, err
	}
	page, pageSize := normalizePage(query.Page, query.PageSize)

	var matched []model.LogEntry
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dayMatches, err := s.scanDay(ctx, day, query)
		if err != nil {
			return nil, err
		}
		matched = append(matched, dayMatches...)
	}
	return paginate(matched, page, pageSize), nil
}

// FileSize reports the total bytes persisted over an inclusive date range.
func (s *Store) FileSize(fromDate, toDate string) (int64, error) {
	from, to, err := parseRange(fromDate, toDate)
	if err != nil {
		return 0, err
	}
	var total int64
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		info, err := os.Stat(s.pathFor(day.Format(DateFormat)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// ParseDate validates a calendar date string. Failures are validation errors,
// never a crash.
func ParseDate(raw string) (time.Time, error) {
	day, err := time.Parse(DateFormat, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperrors.NewValidation("invalid date " + raw + ", expected YYYY-MM-DD")
	}
	return day, nil
}

func parseRange(fromDate, toDate string) (time.Time, time.Time, error) {
	from, err := ParseDate(fromDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := ParseDate(toDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, apperrors.NewValidation("to date is before from date")
	}
	if int(to.Sub(from).Hours()/24) > MaxRangeDays {
		return time.Time{}, time.Time{}, apperrors.NewRangeTooWide("range exceeds 30 days")
	}
	return from, to, nil
}

func (s *Store) pathFor(date string) string {
	return filepath.Join(s.dir, filePrefix+date+fileSuffix)
}

// scanDay reads one partition and returns matching entries, newest first.
func (s *Store) scanDay(ctx context.Context, day time.Time, query model.HistoryQuery) ([]model.LogEntry, error) {
	f, err := os.Open(s.pathFor(day.Format(DateFormat)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	search := strings.ToLower(query.Search)
	var matched []model.LogEntry

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var scanned int
	for scanner.Scan() {
		scanned++
		if scanned%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var entry model.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// Skip corrupt lines rather than failing the whole day.
			continue
		}
		if matchesQuery(entry, query, search) {
			matched = append(matched, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	// Newest first within the day; file order is append order.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}

func matchesQuery(entry model.LogEntry, query model.HistoryQuery, loweredSearch string) bool {
	if query.MinLevel != nil && entry.Level < *query.MinLevel {
		return false
	}
	if len(query.Levels) > 0 {
		found := false
		for _, l := range query.Levels {
			if entry.Level == l {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(query.Sources) > 0 {
		found := false
		for _, src := range query.Sources {
			if entry.Source == src || (len(entry.Source) > len(src) &&
				strings.HasPrefix(entry.Source, src) && entry.Source[len(src)] == '.') {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if query.HasException && !entry.HasException() {
		return false
	}
	if query.CorrelationID != "" && entry.CorrelationID != query.CorrelationID {
		return false
	}
	if loweredSearch != "" {
		haystack := strings.ToLower(entry.Message + " " + entry.Exception)
		if !strings.Contains(haystack, loweredSearch) {
			return false
		}
	}
	return true
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func paginate(entries []model.LogEntry, page, pageSize int) *model.LogPage {
	total := len(entries)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return &model.LogPage{
		Entries:    entries[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}
}
