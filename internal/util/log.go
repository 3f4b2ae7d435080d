// Package util provides the logging helpers and process-wide counters shared
// by every component of a room session.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging helpers backed by pterm's default logger (stderr).

func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// Level selects the severity used by LogWith.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// LogWith logs msg with structured key/value pairs, e.g.
//
//	util.LogWith(util.LevelWarning, "candidate dropped", "peer", id, "reason", "no link")
func LogWith(level Level, msg string, kv ...any) {
	l := pterm.DefaultLogger
	args := l.Args(kv...)
	switch level {
	case LevelDebug:
		l.Debug(msg, args)
	case LevelInfo:
		l.Info(msg, args)
	case LevelWarning:
		l.Warn(msg, args)
	default:
		l.Error(msg, args)
	}
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}
