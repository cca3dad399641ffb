package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the timestamp layout of every rendered log line.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender receives every entry a logger emits. zapcore.Core implements it, so a zap observer
// can be attached directly.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// formatLine renders an entry as tab separated time, level, logger name, caller and message,
// followed by the fields as one JSON object when there are any. Empty names are omitted.
func formatLine(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	parts := []string{entry.Time.Format(DefaultTimeFormatStr), entry.Level.CapitalString()}
	if entry.LoggerName != "" {
		parts = append(parts, entry.LoggerName)
	}
	if entry.Caller.Defined {
		parts = append(parts, entry.Caller.TrimmedPath())
	}
	parts = append(parts, entry.Message)
	if len(fields) == 0 {
		return strings.Join(parts, "\t"), nil
	}

	// the JSON encoder keeps fields in the order they were logged
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return strings.Join(parts, "\t"), err
	}
	defer buf.Free()
	return strings.Join(append(parts, buf.String()), "\t"), nil
}

// ConsoleAppender writes one human readable line per entry. It does not filter by level.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender returns a ConsoleAppender on stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender returns a ConsoleAppender on writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer}
}

// Write prints the entry. A line is still printed when its fields cannot be encoded.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, encodeErr := formatLine(entry, fields)
	if _, err := fmt.Fprintln(appender.Writer, line); err != nil {
		return err
	}
	return encodeErr
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}
