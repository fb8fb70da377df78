package events

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorLogFile is the name of the append-only SQL error log inside the log dir.
const ErrorLogFile = "my-errors.log"

// ErrorLog appends one timestamped line per SQL failure. Write failures are
// reported to the process logger and otherwise ignored.
type ErrorLog struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewErrorLog returns an ErrorLog writing to dir/my-errors.log. An empty dir
// disables the file and keeps only the process logger.
func NewErrorLog(dir string, logger *slog.Logger) *ErrorLog {
	if logger == nil {
		logger = slog.Default()
	}
	l := &ErrorLog{logger: logger, now: time.Now}
	if dir != "" {
		l.path = filepath.Join(dir, ErrorLogFile)
	}
	return l
}

// Path returns the log file path, or "" when the file is disabled.
func (l *ErrorLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record writes err to the log file and the process logger.
func (l *ErrorLog) Record(err error) {
	if l == nil || err == nil {
		return
	}
	l.logger.Error("sql_error", "err", err)
	if l.path == "" {
		return
	}

	line := fmt.Sprintf("[%s] SQL Error: %s\n", l.now().UTC().Format(time.RFC3339Nano), err.Error())

	l.mu.Lock()
	defer l.mu.Unlock()

	if mkErr := os.MkdirAll(filepath.Dir(l.path), 0o755); mkErr != nil {
		l.logger.Error("error_log_mkdir_failed", "path", l.path, "err", mkErr)
		return
	}
	f, openErr := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		l.logger.Error("error_log_open_failed", "path", l.path, "err", openErr)
		return
	}
	defer func() { _ = f.Close() }()
	if _, wErr := f.WriteString(line); wErr != nil {
		l.logger.Error("error_log_write_failed", "path", l.path, "err", wErr)
	}
}
