package zaplog_test

import (
	"testing"

	"go.uber.org/zap"

	"example.com/timeclock/base/zaplog"
)

func TestLogger(t *testing.T) {
	l := zaplog.Logger()
	if l == nil {
		t.Fatal("Logger() = nil before SetLogger, want nop logger")
	}
	// The fallback must be safe to log through.
	l.Debug("debug message without a registered logger")

	set := zap.NewNop()
	zaplog.SetLogger(set)
	if got := zaplog.Logger(); got != set {
		t.Errorf("Logger() = %p after SetLogger, want %p", got, set)
	}
}
