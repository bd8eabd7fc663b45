// Package log provides the logging facade used throughout the agent.
//
// All collectors and the ingestion client log through this package so
// that a single seelog logger configuration governs the whole agent,
// mirroring how the teacher's writer and config packages each import
// "log" directly rather than threading a logger through every call.
package log

import (
	seelog "github.com/cihub/seelog"
)

var debug = false

// SetDebug toggles debug-level logging. When false, Debugf/Tracef
// calls are suppressed before they reach seelog, so the agent stays
// quiet in production by default.
func SetDebug(enabled bool) {
	debug = enabled
}

// Debug logs at debug level, gated on SetDebug(true).
func Debug(v ...interface{}) {
	if !debug {
		return
	}
	seelog.Debug(v...)
}

// Debugf logs at debug level with formatting, gated on SetDebug(true).
func Debugf(format string, params ...interface{}) {
	if !debug {
		return
	}
	seelog.Debugf(format, params...)
}

// Tracef logs at trace level, gated on SetDebug(true).
func Tracef(format string, params ...interface{}) {
	if !debug {
		return
	}
	seelog.Tracef(format, params...)
}

// Info logs at info level.
func Info(v ...interface{}) { seelog.Info(v...) }

// Infof logs at info level with formatting.
func Infof(format string, params ...interface{}) { seelog.Infof(format, params...) }

// Warn logs at warn level.
func Warn(v ...interface{}) { seelog.Warn(v...) }

// Warnf logs at warn level with formatting.
func Warnf(format string, params ...interface{}) { seelog.Warnf(format, params...) }

// Error logs at error level.
func Error(v ...interface{}) { seelog.Error(v...) }

// Errorf logs at error level with formatting.
func Errorf(format string, params ...interface{}) { seelog.Errorf(format, params...) }

// Flush flushes any buffered log output. Should be called on shutdown.
func Flush() { seelog.Flush() }
