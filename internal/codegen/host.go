package codegen

import (
	"sync"

	"go.uber.org/zap"
)

// Host is the diagnostics sink of a generation pass.
type Host interface {
	LogError(msg string)
	LogWarning(msg string)
	HasLoggedErrors() bool
}

// LoggingHost reports diagnostics through zap and remembers them.
type LoggingHost struct {
	logger *zap.Logger

	mu       sync.Mutex
	errors   []string
	warnings []string
}

// NewLoggingHost creates a host logging to logger.
func NewLoggingHost(logger *zap.Logger) *LoggingHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingHost{logger: logger}
}

// LogError records an error.
func (h *LoggingHost) LogError(msg string) {
	h.mu.Lock()
	h.errors = append(h.errors, msg)
	h.mu.Unlock()
	h.logger.Error("code generation error", zap.String("diagnostic", msg))
}

// LogWarning records a warning.
func (h *LoggingHost) LogWarning(msg string) {
	h.mu.Lock()
	h.warnings = append(h.warnings, msg)
	h.mu.Unlock()
	h.logger.Warn("code generation warning", zap.String("diagnostic", msg))
}

// HasLoggedErrors reports whether any error was recorded.
func (h *LoggingHost) HasLoggedErrors() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errors) > 0
}

// Errors returns the recorded errors in order.
func (h *LoggingHost) Errors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.errors...)
}

// Warnings returns the recorded warnings in order.
func (h *LoggingHost) Warnings() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.warnings...)
}
