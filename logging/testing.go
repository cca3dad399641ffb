package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender logs through tb.Log so lines are attributed to the running test.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an Appender writing to tb.
func NewTestAppender(tb testing.TB) Appender {
	return testAppender{tb}
}

func (tapp testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	line, err := formatLine(entry, fields)
	tapp.tb.Log(line)
	return err
}

func (tapp testAppender) Sync() error {
	return nil
}
