package logging

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// Level is the minimum severity a logger emits.
type Level int

// DEBUG is -1 so that INFO is the zero value.
const (
	DEBUG Level = iota - 1
	INFO
	WARN
	ERROR
)

func (level Level) String() string {
	return level.AsZap().CapitalString()
}

// AsZap converts the Level to a `zapcore.Level`.
func (level Level) AsZap() zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	}
	panic(fmt.Sprintf("unreachable: %d", level))
}

// AtomicLevel is a level that can be changed while other goroutines log.
type AtomicLevel struct {
	val *atomic.Int32
}

// NewAtomicLevelAt returns an AtomicLevel set to initLevel.
func NewAtomicLevelAt(initLevel Level) AtomicLevel {
	level := AtomicLevel{val: &atomic.Int32{}}
	level.Set(initLevel)
	return level
}

// Set changes the level.
func (level AtomicLevel) Set(newLevel Level) {
	level.val.Store(int32(newLevel))
}

// Get returns the level.
func (level AtomicLevel) Get() Level {
	return Level(level.val.Load())
}

// Enabled reports whether entries at l pass the level.
func (level AtomicLevel) Enabled(l Level) bool {
	return l >= level.Get()
}
