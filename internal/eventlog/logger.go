// Package eventlog persists session events to a JSON lines file so that the
// history of triggers, discards and uploads survives restarts.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-soundgate/internal/types"
)

// DefaultLogPath is used when no event log path is configured.
//
//nolint:gocritic // Intentional absolute path for Unix systems
var DefaultLogPath = filepath.Join("/var/log/soundgate", "events.jsonl")

// Logger writes session events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	// Ensure directory exists
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// Open file for appending
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // log file is world-readable
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *types.SessionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// Record implements session.EventSink. State transitions are not persisted;
// they are visible through the status server instead.
func (l *Logger) Record(e types.SessionEvent) {
	if e.Type == types.EventStateChanged {
		return
	}
	if err := l.Log(&e); err != nil {
		slog.Warn("failed to write event log", "type", e.Type, "error", err)
	}
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast returns up to n events of the given type (empty = all), skipping
// the newest offset matches. Events are returned newest first; hasMore reports
// whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter types.EventType) (events []types.SessionEvent, hasMore bool, err error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []types.SessionEvent{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.SessionEvent{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events = make([]types.SessionEvent, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event types.SessionEvent
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if filter != "" && event.Type != filter {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}
	return events, false, nil
}
