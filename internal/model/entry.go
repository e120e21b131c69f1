package model

import "time"

// LogEntry is one line of system activity. Entries are immutable once created;
// everything downstream (buffer, history, broadcaster) treats them as values.
type LogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Level         Level     `json:"level"`
	Source        string    `json:"source"` // dotted namespace, e.g. "Api.Orders"
	Message       string    `json:"message"`
	Exception     string    `json:"exception,omitempty"`
	ExceptionType string    `json:"exception_type,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// HasException reports whether the entry carries exception detail.
func (e LogEntry) HasException() bool {
	return e.Exception != "" || e.ExceptionType != ""
}

// LevelOverride is a per-source-prefix minimum level rule.
type LevelOverride struct {
	Prefix string `json:"prefix"`
	Level  Level  `json:"level"`
}
