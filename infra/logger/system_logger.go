package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// SystemLog represents a structured system log entry
type SystemLog struct {
	Timestamp   time.Time      `json:"timestamp"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Provider    string         `json:"provider,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Environment string         `json:"environment"`
	Service     string         `json:"service"`
}

// Sink receives every accepted log entry. Implementations ship entries to an
// external system (OpenSearch, files, a metrics pipeline); the logger never
// depends on one being present.
type Sink interface {
	Write(entry SystemLog) error
}

// SystemLoggerConfig represents configuration for system logger
type SystemLoggerConfig struct {
	EnableConsole bool
	MinLevel      LogLevel
	Service       string
	Environment   string
	Output        io.Writer // defaults to os.Stdout
}

// SystemLogger handles structured logging to console and an optional sink
type SystemLogger struct {
	sink          Sink
	enableConsole bool
	minLevel      LogLevel
	service       string
	environment   string
	out           io.Writer
	mu            sync.Mutex
}

// NewSystemLogger creates a new system logger. A nil sink disables sink output.
func NewSystemLogger(sink Sink, config SystemLoggerConfig) *SystemLogger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	if config.MinLevel == "" {
		config.MinLevel = LevelInfo
	}
	return &SystemLogger{
		sink:          sink,
		enableConsole: config.EnableConsole,
		minLevel:      config.MinLevel,
		service:       config.Service,
		environment:   config.Environment,
		out:           out,
	}
}

// LogContext holds contextual information for logging
type LogContext struct {
	Provider  string
	RequestID string
	Fields    map[string]any
}

// Debug logs a debug message
func (sl *SystemLogger) Debug(message string, ctx ...LogContext) {
	sl.log(LevelDebug, message, ctx...)
}

// Info logs an info message
func (sl *SystemLogger) Info(message string, ctx ...LogContext) {
	sl.log(LevelInfo, message, ctx...)
}

// Warn logs a warning message
func (sl *SystemLogger) Warn(message string, ctx ...LogContext) {
	sl.log(LevelWarn, message, ctx...)
}

// Error logs an error message
func (sl *SystemLogger) Error(message string, err error, ctx ...LogContext) {
	logCtx := LogContext{}
	if len(ctx) > 0 {
		logCtx = ctx[0]
	}

	if logCtx.Fields == nil {
		logCtx.Fields = make(map[string]any)
	}

	if err != nil {
		logCtx.Fields["error"] = err.Error()
	}

	sl.log(LevelError, message, logCtx)
}

// log is the core logging function
func (sl *SystemLogger) log(level LogLevel, message string, ctx ...LogContext) {
	if !sl.shouldLog(level) {
		return
	}

	entry := SystemLog{
		Timestamp:   time.Now().UTC(),
		Level:       level,
		Message:     message,
		Environment: sl.environment,
		Service:     sl.service,
	}

	if len(ctx) > 0 {
		logCtx := ctx[0]
		entry.Provider = logCtx.Provider
		entry.RequestID = logCtx.RequestID
		entry.Fields = logCtx.Fields

		if logCtx.Fields != nil {
			if errMsg, ok := logCtx.Fields["error"].(string); ok {
				entry.Error = errMsg
			}
		}
	}

	if sl.enableConsole {
		sl.logToConsole(entry)
	}

	if sl.sink != nil {
		_ = sl.sink.Write(entry)
	}
}

// shouldLog checks if the log level should be logged
func (sl *SystemLogger) shouldLog(level LogLevel) bool {
	levelOrder := map[LogLevel]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}

	return levelOrder[level] >= levelOrder[sl.minLevel]
}

// logToConsole logs to console in a single-line text format
func (sl *SystemLogger) logToConsole(entry SystemLog) {
	var contextParts []string
	if entry.Provider != "" {
		contextParts = append(contextParts, fmt.Sprintf("provider=%s", entry.Provider))
	}
	if entry.RequestID != "" {
		contextParts = append(contextParts, fmt.Sprintf("req_id=%s", entry.RequestID))
	}
	for key, value := range entry.Fields {
		if key == "error" {
			continue
		}
		contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, value))
	}

	context := ""
	if len(contextParts) > 0 {
		context = fmt.Sprintf(" [%s]", strings.Join(contextParts, " "))
	}

	errPart := ""
	if entry.Error != "" {
		errPart = fmt.Sprintf(" - error: %s", entry.Error)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	fmt.Fprintf(sl.out, "%s [%s]%s %s%s\n",
		entry.Timestamp.Format("2006-01-02 15:04:05"),
		strings.ToUpper(string(entry.Level)),
		context,
		entry.Message,
		errPart,
	)
}
