// Package logging provides debug logging for EverMemoryArchive components,
// correlated across the entities the runtime juggles: every entry carries
// its component, and loggers can be scoped to an actor identity, a run id,
// or a scheduled task so one session file interleaving many actors stays
// greppable. All entries for one process go to a session-scoped file in
// ~/.ema/logs/, with a stderr fallback when the file cannot be opened.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sink is the shared destination all component loggers write through. One
// process has one sink: the session file, or stderr in fallback mode.
type sink struct {
	mu  sync.Mutex
	out io.Writer

	sessionID string
	logPath   string
}

var (
	processSink *sink
	sinkOnce    sync.Once
	sinkErr     error
)

func getSink() (*sink, error) {
	sinkOnce.Do(func() {
		id := uuid.New().String()

		homeDir, err := os.UserHomeDir()
		if err != nil {
			sinkErr = fmt.Errorf("failed to get home directory: %w", err)
			processSink = &sink{out: os.Stderr, sessionID: id}
			return
		}

		dir := filepath.Join(homeDir, ".ema", "logs")
		if err := os.MkdirAll(dir, 0750); err != nil {
			sinkErr = fmt.Errorf("failed to create log directory: %w", err)
			processSink = &sink{out: os.Stderr, sessionID: id}
			return
		}

		path := filepath.Join(dir, fmt.Sprintf("%s-ema.log", id))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			sinkErr = fmt.Errorf("failed to open log file: %w", err)
			processSink = &sink{out: os.Stderr, sessionID: id}
			return
		}

		processSink = &sink{out: file, sessionID: id, logPath: path}
	})
	return processSink, sinkErr
}

func (s *sink) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

// Logger writes tagged entries for one component, optionally scoped to a
// runtime entity. Derived loggers (WithActor, WithRun, WithScope) share the
// parent's destination and are cheap to create per run or per task.
type Logger struct {
	sink      *sink
	component string
	scope     string
}

// NewLogger creates a logger for a component. All components of a process
// share one session file, ~/.ema/logs/<session-id>-ema.log. When the file
// cannot be opened the logger writes to stderr and the error is returned so
// callers can note the degraded mode; the logger itself is always usable.
func NewLogger(component string) (*Logger, error) {
	s, err := getSink()
	logger := &Logger{sink: s, component: component}
	if err != nil {
		logger.write("WARN", "file logging unavailable: %v", err)
	}
	return logger, err
}

// WithScope returns a derived logger whose entries carry an extra
// correlation tag, e.g. "task:heartbeat".
func (l *Logger) WithScope(scope string) *Logger {
	return &Logger{sink: l.sink, component: l.component, scope: scope}
}

// WithActor returns a derived logger tagged with an actor identity, so the
// interleaved entries of concurrently running actors can be told apart.
func (l *Logger) WithActor(userID, actorID int64) *Logger {
	return l.WithScope(fmt.Sprintf("actor:%d/%d", userID, actorID))
}

// WithRun returns a derived logger tagged with a run id, correlating the
// entries that the agent loop writes for one run. The context manager and
// the adapter log through their own loggers, which carry no run tag.
func (l *Logger) WithRun(runID string) *Logger {
	return l.WithScope("run:" + runID)
}

func (l *Logger) write(level, format string, v ...interface{}) {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	tag := l.component
	if l.scope != "" {
		tag += " " + l.scope
	}
	l.sink.write(fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, tag, level, fmt.Sprintf(format, v...)))
}

// Printf logs a formatted message at INFO level.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// SessionID returns the process session id log entries are filed under.
func (l *Logger) SessionID() string {
	return l.sink.sessionID
}

// LogPath returns the session file path, or "" in fallback mode.
func (l *Logger) LogPath() string {
	return l.sink.logPath
}
