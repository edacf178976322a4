// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log provides the leveled logger used throughout usbtrace.
//
// Time/date are omitted by default because most deployments (systemd
// units, analyzer frontends piping stderr) already add them; pass
// -logdate to re-enable stdlib timestamps.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level identifies a logging severity, ordered from least to most severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarn
	LevelError
	LevelCrit
)

// level bundles a level's writer, its stdlib *log.Logger and syslog-style prefix.
type level struct {
	name    string
	prefix  string
	flags   int
	writer  io.Writer
	logger  *log.Logger
}

var levels = [...]*level{
	LevelDebug:  {name: "debug", prefix: "<7>[DEBUG]    ", flags: 0},
	LevelInfo:   {name: "info", prefix: "<6>[INFO]     ", flags: 0},
	LevelNotice: {name: "notice", prefix: "<5>[NOTICE]   ", flags: log.Lshortfile},
	LevelWarn:   {name: "warn", prefix: "<4>[WARNING]  ", flags: log.Lshortfile},
	LevelError:  {name: "err", prefix: "<3>[ERROR]    ", flags: log.Llongfile},
	LevelCrit:   {name: "crit", prefix: "<2>[CRITICAL] ", flags: log.Llongfile},
}

var logDateTime bool

func init() {
	for _, l := range levels {
		l.writer = os.Stderr
		l.logger = log.New(l.writer, l.prefix, l.flags)
	}
}

func rebuild(l *level) {
	flags := l.flags
	if logDateTime {
		flags |= log.LstdFlags
	}
	l.logger = log.New(l.writer, l.prefix, flags)
}

// SetLevel discards every level below lvl ("debug", "info", "notice",
// "warn", "err"/"fatal" or "crit"). Unknown values fall back to "debug".
func SetLevel(lvl string) {
	threshold := LevelDebug
	switch lvl {
	case "debug":
		threshold = LevelDebug
	case "info":
		threshold = LevelInfo
	case "notice":
		threshold = LevelNotice
	case "warn":
		threshold = LevelWarn
	case "err", "fatal":
		threshold = LevelError
	case "crit":
		threshold = LevelCrit
	default:
		fmt.Fprintf(os.Stderr, "log: invalid loglevel %q, using \"debug\"\n", lvl)
	}
	for i, l := range levels {
		if Level(i) < threshold {
			l.writer = io.Discard
		} else {
			l.writer = os.Stderr
		}
		rebuild(l)
	}
}

// SetDateTime toggles stdlib date/time stamps on every level's output.
func SetDateTime(enabled bool) {
	logDateTime = enabled
	for _, l := range levels {
		rebuild(l)
	}
}

func output(lvl Level, s string) {
	l := levels[lvl]
	if l.writer == io.Discard {
		return
	}
	l.logger.Output(3, s)
}

func Debug(v ...interface{})                 { output(LevelDebug, fmt.Sprint(v...)) }
func Debugf(format string, v ...interface{}) { output(LevelDebug, fmt.Sprintf(format, v...)) }
func Info(v ...interface{})                  { output(LevelInfo, fmt.Sprint(v...)) }
func Infof(format string, v ...interface{})  { output(LevelInfo, fmt.Sprintf(format, v...)) }
func Notice(v ...interface{})                { output(LevelNotice, fmt.Sprint(v...)) }
func Noticef(format string, v ...interface{}) { output(LevelNotice, fmt.Sprintf(format, v...)) }
func Warn(v ...interface{})                  { output(LevelWarn, fmt.Sprint(v...)) }
func Warnf(format string, v ...interface{})  { output(LevelWarn, fmt.Sprintf(format, v...)) }
func Error(v ...interface{})                 { output(LevelError, fmt.Sprint(v...)) }
func Errorf(format string, v ...interface{}) { output(LevelError, fmt.Sprintf(format, v...)) }
func Crit(v ...interface{})                  { output(LevelCrit, fmt.Sprint(v...)) }
func Critf(format string, v ...interface{}) { output(LevelCrit, fmt.Sprintf(format, v...)) }

// Fatal logs at error level then terminates the process.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

// Fatalf is Fatal with format semantics.
func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}
