// Package logx provides component-scoped logging with domain-filtered debug output
// and an in-memory buffer of recent entries for the status endpoint.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// ctxKey is the context key type for values logx reads back out of a context.
type ctxKey string

// DeviceKey carries the device id through a routing flow.
const DeviceKey ctxKey = "device_id"

// Logger writes lines tagged with the component (or agent) that produced them.
type Logger struct {
	component string
}

// LogEntry is a structured copy of a log line kept for the status endpoint.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

type ringBuffer struct {
	entries []LogEntry
	maxSize int
	mu      sync.RWMutex
}

//nolint:gochecknoglobals // process-wide log sink and debug switches
var (
	logWriter     io.Writer
	logWriterLock sync.Mutex

	debugEnabled bool
	debugDomains map[string]bool // nil = all domains
	debugMu      sync.RWMutex

	buffer = &ringBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env-driven debug switches
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG=1 and DEBUG_DOMAINS=routing,planner.
func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	debug := os.Getenv("DEBUG")
	debugEnabled = debug == "1" || strings.EqualFold(debug, "true")

	debugDomains = nil
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugDomains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugDomains[strings.TrimSpace(d)] = true
		}
	}
}

// SetOutput redirects all log output. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	logWriter = w
}

// SetDebug toggles debug output and optionally limits it to the given domains.
func SetDebug(enabled bool, domains ...string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	debugEnabled = enabled
	debugDomains = nil
	if len(domains) > 0 {
		debugDomains = make(map[string]bool, len(domains))
		for _, d := range domains {
			debugDomains[strings.TrimSpace(d)] = true
		}
	}
}

// IsDebugEnabledForDomain reports whether debug lines for domain are emitted.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()

	if !debugEnabled {
		return false
	}
	if debugDomains == nil {
		return true
	}
	return debugDomains[domain]
}

// NewLogger returns a logger for the named component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// WithComponent returns a logger sharing the sink but tagged differently.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component}
}

// Component returns the tag this logger writes.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabledForDomain(l.component) {
		return
	}
	write(l.component, LevelDebug, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	write(l.component, LevelInfo, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	write(l.component, LevelWarn, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	write(l.component, LevelError, "", fmt.Sprintf(format, args...))
}

// Debug logs with domain filtering, tagging the line with the device id found in ctx.
//
//	logx.Debug(ctx, "routing", "lock acquired after %s", wait)
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := "unknown"
	if ctx != nil {
		if id, ok := ctx.Value(DeviceKey).(string); ok && id != "" {
			component = id
		}
	}
	write(component, LevelDebug, domain, fmt.Sprintf(format, args...))
}

// WithDevice stores the device id for later Debug calls.
func WithDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, DeviceKey, deviceID)
}

func write(component string, level Level, domain, message string) {
	timestamp := time.Now().UTC().Format(timestampFormat)
	line := fmt.Sprintf("[%s] [%s] %s: %s", timestamp, component, level, message)
	if domain != "" {
		line = fmt.Sprintf("[%s] [%s] %s: [%s] %s", timestamp, component, level, domain, message)
	}

	logWriterLock.Lock()
	w := logWriter
	if w == nil {
		w = os.Stderr
	}
	_, _ = fmt.Fprintln(w, line)
	logWriterLock.Unlock()

	buffer.add(LogEntry{
		Timestamp: timestamp,
		Component: component,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

func (b *ringBuffer) add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// RecentEntries returns buffered entries, optionally filtered by component and start time.
func RecentEntries(component string, since time.Time) []LogEntry {
	buffer.mu.RLock()
	defer buffer.mu.RUnlock()

	out := make([]LogEntry, 0, len(buffer.entries))
	for i := range buffer.entries {
		e := &buffer.entries[i]
		if component != "" && !strings.EqualFold(e.Component, component) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(timestampFormat, e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, *e)
	}
	return out
}

var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err and returns the wrapped error. A nil err stays nil.
//
//	if err != nil { return logx.Wrap(err, "open memory store") }
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
