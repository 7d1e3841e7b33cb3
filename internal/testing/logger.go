// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"
	"strings"
	"sync"
)

// RecordingLogger satisfies the small Logger interfaces used across
// afscell and keeps every formatted message, tagged with its level.
type RecordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *RecordingLogger) Criticalf(msg string, args ...any) { l.record("CRITICAL", msg, args) }
func (l *RecordingLogger) Errorf(msg string, args ...any)    { l.record("ERROR", msg, args) }
func (l *RecordingLogger) Warningf(msg string, args ...any)  { l.record("WARNING", msg, args) }
func (l *RecordingLogger) Infof(msg string, args ...any)     { l.record("INFO", msg, args) }
func (l *RecordingLogger) Debugf(msg string, args ...any)    { l.record("DEBUG", msg, args) }
func (l *RecordingLogger) Tracef(msg string, args ...any)    { l.record("TRACE", msg, args) }

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, level+": "+fmt.Sprintf(msg, args...))
}

// Messages returns every recorded message as "LEVEL: text".
func (l *RecordingLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

// Contains reports whether any recorded message contains text.
func (l *RecordingLogger) Contains(text string) bool {
	for _, m := range l.Messages() {
		if strings.Contains(m, text) {
			return true
		}
	}
	return false
}

// CheckLog is satisfied by *testing.T and *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger sends runner output to the test log, so it shows up
// next to a failing assertion.
type CheckLogger struct {
	Log CheckLog
}

// NewCheckLogger returns a CheckLogger writing to log.
func NewCheckLogger(log CheckLog) CheckLogger {
	return CheckLogger{Log: log}
}

func (c CheckLogger) Criticalf(msg string, args ...any) { c.logf("CRITICAL", msg, args) }
func (c CheckLogger) Errorf(msg string, args ...any)    { c.logf("ERROR", msg, args) }
func (c CheckLogger) Warningf(msg string, args ...any)  { c.logf("WARNING", msg, args) }
func (c CheckLogger) Infof(msg string, args ...any)     { c.logf("INFO", msg, args) }
func (c CheckLogger) Debugf(msg string, args ...any)    { c.logf("DEBUG", msg, args) }
func (c CheckLogger) Tracef(msg string, args ...any)    { c.logf("TRACE", msg, args) }

func (c CheckLogger) logf(level, msg string, args []any) {
	c.Log.Logf("%s: %s", level, fmt.Sprintf(msg, args...))
}
