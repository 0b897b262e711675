package storage

import (
	"log"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// LogLevel filters badger's internal log output.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarning
	LogError
)

// ParseLogLevel maps "debug", "info", "warning" and "error" to a level.
// Unknown names select LogWarning.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogDebug
	case "info":
		return LogInfo
	case "error":
		return LogError
	}
	return LogWarning
}

// badgerLogger routes badger's log calls through the standard logger.
type badgerLogger struct {
	level LogLevel
}

// NewBadgerLogger returns a badger.Logger that writes at or above level.
func NewBadgerLogger(level LogLevel) badger.Logger {
	return &badgerLogger{level: level}
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.logf(LogError, "ERROR", f, v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.logf(LogWarning, "WARN", f, v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.logf(LogInfo, "INFO", f, v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.logf(LogDebug, "DEBUG", f, v...) }

func (l *badgerLogger) logf(level LogLevel, tag, f string, v ...interface{}) {
	if level < l.level {
		return
	}
	log.Printf("[badger] "+tag+" "+strings.TrimRight(f, "\n"), v...)
}
