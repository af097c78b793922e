package compiler

import (
	"strings"

	"github.com/dataxchange/dxp/pkg/interpolate"
	"github.com/dataxchange/dxp/pkg/logsink"
	"github.com/dataxchange/dxp/pkg/record"
)

// Console writes statement output to a log sink.
type Console struct {
	log logsink.LogFunc
}

// NewConsole returns a Console writing to log. A nil log discards output.
func NewConsole(log logsink.LogFunc) *Console {
	return &Console{log: logsink.OrNop(log)}
}

// Print writes text at info level.
func (c *Console) Print(text string) { c.log(logsink.SeverityInfo, text) }

// Warn writes text at warn level.
func (c *Console) Warn(text string) { c.log(logsink.SeverityWarn, text) }

// Error writes text at error level.
func (c *Console) Error(text string) { c.log(logsink.SeverityError, text) }

// Debug writes text at debug level.
func (c *Console) Debug(text string) { c.log(logsink.SeverityDebug, text) }

// Write logs text at severity.
func (c *Console) Write(severity logsink.Severity, text string) {
	c.log(severity, text)
}

// WriteRow interpolates text against values and logs it at severity.
func (c *Console) WriteRow(severity logsink.Severity, text string, values *record.Bag) {
	c.log(severity, interpolate.Render(text, values))
}

// Log returns the sink the console writes to.
func (c *Console) Log() logsink.LogFunc {
	return c.log
}

// consoleSeverity maps a console statement name to its severity.
func consoleSeverity(name string) (logsink.Severity, bool) {
	switch strings.ToLower(name) {
	case "console.print", "console.log", "print", "log":
		return logsink.SeverityInfo, true
	case "console.warn", "warn":
		return logsink.SeverityWarn, true
	case "console.error", "error":
		return logsink.SeverityError, true
	case "console.debug", "debug":
		return logsink.SeverityDebug, true
	}
	return 0, false
}
