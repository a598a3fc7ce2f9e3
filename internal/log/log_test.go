package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorCarriesErrAndPairs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Replace(zap.New(core))

	Error("rule rejected", errors.New("boom"), "event_id", "12")
	Info("refreshed", "events", 3)

	entries := logs.All()
	require.Len(t, entries, 2)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "rule rejected", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, "12", ctx["event_id"])

	assert.Equal(t, int64(3), entries[1].ContextMap()["events"])
}

func TestSetLevel(t *testing.T) {
	SetLevel("error")
	assert.Equal(t, zapcore.ErrorLevel, minLevel.Level())

	SetLevel("bogus")
	assert.Equal(t, zapcore.ErrorLevel, minLevel.Level())

	SetLevel(LevelInfo)
	assert.Equal(t, zapcore.InfoLevel, minLevel.Level())
}
