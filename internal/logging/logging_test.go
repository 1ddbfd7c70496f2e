package logging

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedLine struct {
	level  string
	msg    string
	err    error
	fields watermill.LogFields
}

// captureAdapter records every line routed through the watermill bridge.
type captureAdapter struct {
	lines  *[]capturedLine
	fields watermill.LogFields
}

func newCaptureAdapter() *captureAdapter {
	return &captureAdapter{lines: &[]capturedLine{}}
}

func (c *captureAdapter) record(level, msg string, err error, fields watermill.LogFields) {
	*c.lines = append(*c.lines, capturedLine{level, msg, err, c.fields.Add(fields)})
}

func (c *captureAdapter) Error(msg string, err error, fields watermill.LogFields) {
	c.record("error", msg, err, fields)
}
func (c *captureAdapter) Info(msg string, fields watermill.LogFields)  { c.record("info", msg, nil, fields) }
func (c *captureAdapter) Debug(msg string, fields watermill.LogFields) { c.record("debug", msg, nil, fields) }
func (c *captureAdapter) Trace(msg string, fields watermill.LogFields) { c.record("trace", msg, nil, fields) }
func (c *captureAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &captureAdapter{lines: c.lines, fields: c.fields.Add(fields)}
}

func TestServiceLoggerLevels(t *testing.T) {
	capture := newCaptureAdapter()
	logger := NewWatermillServiceLogger(capture)

	logger.Debug("dbg", LogFields{"a": 1})
	logger.Info("inf", nil)
	logger.Error("err", errors.New("boom"), nil)

	lines := *capture.lines
	require.Len(t, lines, 3)
	assert.Equal(t, "debug", lines[0].level)
	assert.Equal(t, 1, lines[0].fields["a"])
	assert.Equal(t, "info", lines[1].level)
	assert.Equal(t, "error", lines[2].level)
	assert.EqualError(t, lines[2].err, "boom")
}

func TestServiceLoggerWarnMarksLevel(t *testing.T) {
	capture := newCaptureAdapter()
	logger := NewWatermillServiceLogger(capture)

	logger.Warn("careful", LogFields{"a": 1})

	lines := *capture.lines
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0].level)
	assert.Equal(t, "warn", lines[0].fields["level"])
	assert.Equal(t, 1, lines[0].fields["a"])
}

func TestServiceLoggerWith(t *testing.T) {
	capture := newCaptureAdapter()
	logger := NewWatermillServiceLogger(capture).With(LogFields{"component": "gateway"})

	logger.Info("hello", LogFields{"extra": true})

	lines := *capture.lines
	require.Len(t, lines, 1)
	assert.Equal(t, "gateway", lines[0].fields["component"])
	assert.Equal(t, true, lines[0].fields["extra"])
}

func TestWatermillAdapterRoundTrip(t *testing.T) {
	capture := newCaptureAdapter()
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(capture))

	adapter.Info("from-watermill", watermill.LogFields{"k": "v"})
	adapter.Trace("trace-line", nil)

	lines := *capture.lines
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0].level)
	assert.Equal(t, "v", lines[0].fields["k"])
	// Trace has no ServiceLogger equivalent and maps to debug.
	assert.Equal(t, "debug", lines[1].level)
}

func TestNewSlogServiceLogger(t *testing.T) {
	logger := NewSlogServiceLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	require.NotNil(t, logger)
	logger.Info("no panic", nil)

	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Debug("ignored", nil)
	logger.Warn("ignored", nil)
	logger.Error("ignored", errors.New("x"), nil)
}
