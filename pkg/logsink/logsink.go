// Package logsink defines the two-argument logging callback shared by the
// engine, the statement compiler and the providers. The core packages never
// write output directly; everything goes through a LogFunc supplied by the
// embedding application.
package logsink

import (
	"fmt"
	"strings"
	"sync"
)

// Severity is the level attached to a log message.
type Severity int

const (
	// SeverityDebug is for diagnostic output.
	SeverityDebug Severity = iota

	// SeverityInfo is for progress messages.
	SeverityInfo

	// SeverityWarn is for recoverable problems such as skipped assignments.
	SeverityWarn

	// SeverityError is for failed rows and actions.
	SeverityError
)

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts a level name into a Severity. Unknown names map to info.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return SeverityDebug
	case "warn", "warning":
		return SeverityWarn
	case "error", "fatal":
		return SeverityError
	default:
		return SeverityInfo
	}
}

// LogFunc receives every message emitted by the engine.
type LogFunc func(severity Severity, message string)

// Nop discards all messages.
func Nop(Severity, string) {}

// OrNop returns f, or Nop when f is nil.
func OrNop(f LogFunc) LogFunc {
	if f == nil {
		return Nop
	}
	return f
}

// Debugf logs a formatted debug message.
func (f LogFunc) Debugf(format string, args ...interface{}) {
	f(SeverityDebug, fmt.Sprintf(format, args...))
}

// Infof logs a formatted info message.
func (f LogFunc) Infof(format string, args ...interface{}) {
	f(SeverityInfo, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning.
func (f LogFunc) Warnf(format string, args ...interface{}) {
	f(SeverityWarn, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error.
func (f LogFunc) Errorf(format string, args ...interface{}) {
	f(SeverityError, fmt.Sprintf(format, args...))
}

// Entry is one message captured by a Recorder.
type Entry struct {
	Severity Severity
	Message  string
}

// Recorder keeps every message it receives. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Log implements LogFunc.
func (r *Recorder) Log(severity Severity, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Severity: severity, Message: message})
}

// Entries returns a copy of the captured messages.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Messages returns the captured messages with the given severity.
func (r *Recorder) Messages(severity Severity) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Severity == severity {
			out = append(out, e.Message)
		}
	}
	return out
}

// Contains reports whether any captured message contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, e := range r.Entries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
