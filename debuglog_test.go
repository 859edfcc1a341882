package post_archiver

import (
	"context"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDebugLogCapturesAllLevels(t *testing.T) {
	assert := assert_.New(t)

	// The console only shows info and above, the debug log still sees everything
	console, observed := observer.New(zap.InfoLevel)
	debugLog := NewDebugLog()
	logger := debugLog.Attach(zap.New(console)).With(zap.String("request", "r1"))

	logger.Debug("trying strategy", zap.String("strategy", "head-redirect"))
	logger.Info("document created", zap.Int("videos", 2))

	assert.Equal(1, observed.Len())
	entries := debugLog.Entries()
	if assert.Len(entries, 2) {
		assert.Equal("debug", entries[0].Level)
		assert.Equal("trying strategy", entries[0].Message)
		assert.Equal("head-redirect", entries[0].Fields["strategy"])
		assert.Equal("r1", entries[0].Fields["request"])
		assert.Equal("info", entries[1].Level)
		assert.EqualValues(2, entries[1].Fields["videos"])
	}
}

func TestDebugLogSnapshotIsIndependent(t *testing.T) {
	assert := assert_.New(t)
	debugLog := NewDebugLog()
	logger := debugLog.Attach(zap.NewNop())
	logger.Warn("first")
	snapshot := debugLog.Entries()
	logger.Warn("second")
	assert.Len(snapshot, 1)
	assert.Len(debugLog.Entries(), 2)
}

func TestLoggerFromContext(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(zap.L(), Logger(context.Background()))
	logger := zap.NewExample()
	assert.Same(logger, Logger(WithLogger(context.Background(), logger)))
}
