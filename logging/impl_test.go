package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualTrimmed := strings.TrimSuffix(output, "\n")
	actualParts := strings.Split(actualTrimmed, "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	// Logger name.
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	// Log message.
	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])

	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	err = json.Unmarshal([]byte(expectedParts[5]), &expectedMap)
	test.That(t, err, test.ShouldBeNil)

	actualMap := make(map[string]any)
	err = json.Unmarshal([]byte(actualParts[5]), &actualMap)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("impl", DEBUG, true, NewWriterAppender(notStdout))

	logger.Info("impl Info log")
	// tabs separate the date, level, name, file location and message
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	impl Info log`)

	logger.Debugf("impl %s log", "debugf")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:45:20.764Z	DEBUG	impl	logging/impl_test.go:72	impl debugf log`)

	logger.Errorw("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806Z	ERROR	impl	logging/impl_test.go:76	impl logw	{"key":"value"}`)

	logger.Infow("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:80	BasicStruct	{"implOneKey":"1val","BasicStruct":{"X":1}}`)

	logger.Warnw("unpaired", "dangling")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	WARN	impl	logging/impl_test.go:84	unpaired	{"dangling":"no value logged for \"dangling\""}`)

	unnamed := newImpl("", INFO, true, NewWriterAppender(notStdout))
	unnamed.Warn("no name")
	line, err := notStdout.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	parts := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	test.That(t, parts, test.ShouldHaveLength, 4)
	test.That(t, parts[1], test.ShouldEqual, "WARN")
	test.That(t, parts[3], test.ShouldEqual, "no name")
}

func TestLevelFiltering(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("filter", WARN, true, NewWriterAppender(notStdout))

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "WARN")

	logger.SetLevel(ERROR)
	notStdout.Reset()
	logger.Warnf("dropped %d", 1)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
	logger.Errorf("kept %d", 2)
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "kept 2")
}

func TestSublogger(t *testing.T) {
	notStdout := &bytes.Buffer{}
	parent := newImpl("align", INFO, true, NewWriterAppender(notStdout))
	child := parent.Sublogger("ransac")
	grandchild := child.Sublogger("fit")

	child.Info("hello")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "\talign.ransac\t")
	grandchild.Info("deeper")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "\talign.ransac.fit\t")

	// levels are independent once derived
	notStdout.Reset()
	child.SetLevel(ERROR)
	child.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
	parent.Info("kept")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "kept")

	test.That(t, newImpl("", DEBUG, false).Sublogger("root").(*impl).name, test.ShouldEqual, "root")
}

type failingAppender struct {
	err error
}

func (fa failingAppender) Write(zapcore.Entry, []zapcore.Field) error { return nil }
func (fa failingAppender) Sync() error                               { return fa.err }

func TestSync(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	logger := newImpl("sync", INFO, true, failingAppender{first}, NewWriterAppender(&bytes.Buffer{}), failingAppender{second})
	err := logger.Sublogger("child").Sync()
	test.That(t, errors.Is(err, first), test.ShouldBeTrue)
	test.That(t, errors.Is(err, second), test.ShouldBeTrue)
	test.That(t, newImpl("sync", INFO, true, NewWriterAppender(&bytes.Buffer{})).Sync(), test.ShouldBeNil)
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Infow("dropped correspondence", "index", 3)
	logger.Sublogger("lifter").Debugf("count %d", 2)

	test.That(t, observed.Len(), test.ShouldEqual, 2)
	entries := observed.FilterMessage("dropped correspondence").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.InfoLevel)
	test.That(t, entries[0].ContextMap()["index"], test.ShouldEqual, int64(3))
	test.That(t, observed.FilterMessage("count 2").All()[0].LoggerName, test.ShouldEqual, "lifter")
}

func TestLevel(t *testing.T) {
	test.That(t, INFO, test.ShouldEqual, Level(0))
	test.That(t, DEBUG.String(), test.ShouldEqual, "DEBUG")
	test.That(t, ERROR.AsZap(), test.ShouldEqual, zapcore.ErrorLevel)

	level := NewAtomicLevelAt(WARN)
	test.That(t, level.Enabled(INFO), test.ShouldBeFalse)
	test.That(t, level.Enabled(ERROR), test.ShouldBeTrue)
	level.Set(DEBUG)
	test.That(t, level.Get(), test.ShouldEqual, DEBUG)
}
