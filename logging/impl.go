package logging

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// sink is shared by a logger and every sublogger derived from it.
type sink struct {
	appenders []Appender
	inUTC     bool
}

func (s *sink) write(entry zapcore.Entry, fields []zapcore.Field) {
	if s.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range s.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// impl carries a name and a level of its own; output goes to the shared sink.
type impl struct {
	name  string
	level AtomicLevel
	sink  *sink
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{name: name, level: NewAtomicLevelAt(level), sink: &sink{appenders: appenders, inUTC: inUTC}}
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{name: name, level: NewAtomicLevelAt(imp.level.Get()), sink: imp.sink}
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.sink.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

// callerDepth is the number of frames between emit and the code that called a Logger method.
const callerDepth = 3

func (imp *impl) emit(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
	}
	if pc, file, line, ok := runtime.Caller(callerDepth); ok {
		entry.Caller = zapcore.NewEntryCaller(pc, file, line, true)
	}
	imp.sink.write(entry, fields)
}

func (imp *impl) print(level Level, args []interface{}) {
	if imp.level.Enabled(level) {
		imp.emit(level, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) printf(level Level, template string, args []interface{}) {
	if imp.level.Enabled(level) {
		imp.emit(level, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) printw(level Level, msg string, keysAndValues []interface{}) {
	if imp.level.Enabled(level) {
		imp.emit(level, msg, toFields(keysAndValues))
	}
}

// toFields pairs up alternating keys and values. A trailing key without a value is kept with an
// error in its place.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, fmt.Errorf("no value logged for %q", key)))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) { imp.print(DEBUG, args) }
func (imp *impl) Info(args ...interface{})  { imp.print(INFO, args) }
func (imp *impl) Warn(args ...interface{})  { imp.print(WARN, args) }
func (imp *impl) Error(args ...interface{}) { imp.print(ERROR, args) }

func (imp *impl) Debugf(template string, args ...interface{}) { imp.printf(DEBUG, template, args) }
func (imp *impl) Infof(template string, args ...interface{})  { imp.printf(INFO, template, args) }
func (imp *impl) Warnf(template string, args ...interface{})  { imp.printf(WARN, template, args) }
func (imp *impl) Errorf(template string, args ...interface{}) { imp.printf(ERROR, template, args) }

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) { imp.printw(DEBUG, msg, keysAndValues) }
func (imp *impl) Infow(msg string, keysAndValues ...interface{})  { imp.printw(INFO, msg, keysAndValues) }
func (imp *impl) Warnw(msg string, keysAndValues ...interface{})  { imp.printw(WARN, msg, keysAndValues) }
func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) { imp.printw(ERROR, msg, keysAndValues) }
