package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type captureSink struct {
	entries []SystemLog
}

func (c *captureSink) Write(entry SystemLog) error {
	c.entries = append(c.entries, entry)
	return nil
}

func TestSystemLogger_LevelFiltering(t *testing.T) {
	sink := &captureSink{}
	sl := NewSystemLogger(sink, SystemLoggerConfig{
		MinLevel: LevelWarn,
		Service:  "odemehub",
	})

	sl.Debug("debug message")
	sl.Info("info message")
	sl.Warn("warn message")
	sl.Error("error message", errors.New("boom"))

	assert.Len(t, sink.entries, 2)
	assert.Equal(t, LevelWarn, sink.entries[0].Level)
	assert.Equal(t, LevelError, sink.entries[1].Level)
	assert.Equal(t, "boom", sink.entries[1].Error)
}

func TestSystemLogger_ConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSystemLogger(nil, SystemLoggerConfig{
		EnableConsole: true,
		MinLevel:      LevelInfo,
		Service:       "odemehub",
		Output:        &buf,
	})

	sl.Info("payment created", LogContext{
		Provider:  "iyzico",
		RequestID: "req-1",
	})

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "provider=iyzico")
	assert.Contains(t, out, "payment created")
}

func TestSystemLogger_NilSinkDoesNotPanic(t *testing.T) {
	sl := NewSystemLogger(nil, SystemLoggerConfig{MinLevel: LevelDebug})

	assert.NotPanics(t, func() {
		sl.Debug("no sink configured")
		sl.Error("still fine", nil)
	})
}

func TestSystemLogger_ContextFields(t *testing.T) {
	sink := &captureSink{}
	sl := NewSystemLogger(sink, SystemLoggerConfig{MinLevel: LevelDebug})

	sl.Info("installment inquiry", LogContext{
		Provider: "param",
		Fields:   map[string]any{"bin": "450803"},
	})

	assert.Len(t, sink.entries, 1)
	assert.Equal(t, "param", sink.entries[0].Provider)
	assert.Equal(t, "450803", sink.entries[0].Fields["bin"])
}
