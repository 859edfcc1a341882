package post_archiver

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type DebugEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// DebugLog is a zapcore.Core that keeps every entry written through it, in order, for the lifetime of one request.
// Attach it to the request logger and read it back with Entries.
type DebugLog struct {
	buf    *debugBuffer
	fields []zapcore.Field
	level  zapcore.LevelEnabler
}

type debugBuffer struct {
	mu      sync.Mutex
	entries []DebugEntry
}

var _ zapcore.Core = (*DebugLog)(nil)

func NewDebugLog() *DebugLog {
	return &DebugLog{
		buf:   &debugBuffer{},
		level: zapcore.DebugLevel,
	}
}

// Attach returns a logger that writes to both logger and the DebugLog.
func (d *DebugLog) Attach(logger *zap.Logger) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, d)
	}))
}

// Entries returns a snapshot of the entries so far.
func (d *DebugLog) Entries() []DebugEntry {
	d.buf.mu.Lock()
	defer d.buf.mu.Unlock()
	entries := make([]DebugEntry, len(d.buf.entries))
	copy(entries, d.buf.entries)
	return entries
}

func (d *DebugLog) Enabled(level zapcore.Level) bool {
	return d.level.Enabled(level)
}

func (d *DebugLog) With(fields []zapcore.Field) zapcore.Core {
	clone := *d
	clone.fields = make([]zapcore.Field, 0, len(d.fields)+len(fields))
	clone.fields = append(clone.fields, d.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

func (d *DebugLog) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if d.Enabled(entry.Level) {
		return checked.AddCore(entry, d)
	}
	return checked
}

func (d *DebugLog) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range d.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	e := DebugEntry{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
	}
	if len(enc.Fields) > 0 {
		e.Fields = enc.Fields
	}
	d.buf.mu.Lock()
	d.buf.entries = append(d.buf.entries, e)
	d.buf.mu.Unlock()
	return nil
}

func (d *DebugLog) Sync() error {
	return nil
}
