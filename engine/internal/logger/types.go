package logger

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

//
// LOGGER
//

// LogLevel represents the severity of a log entry
type LogLevel string

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message"`
}

// entryBuffer holds the most recent entries of a logger and all its children
type entryBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	maxSize  int
	minLevel LogLevel
}

// Logger handles all logging throughout the application.
// Every entry goes to zap; the most recent maxSize entries are also kept
// in memory for the ops API. Named children share the parent's buffer.
type Logger struct {
	name  string
	zl    *zap.Logger
	sugar *zap.SugaredLogger
	buf   *entryBuffer
}
