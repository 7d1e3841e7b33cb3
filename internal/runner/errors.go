// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package runner

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"
)

const (
	// ErrCommandMissing is returned when an external program cannot
	// be resolved. Nothing has been executed when it is returned.
	ErrCommandMissing = errors.ConstError("command missing")

	// ErrCommandFailed matches every *CommandFailed.
	ErrCommandFailed = errors.ConstError("command failed")

	// ErrNoSuchEntry matches a *CommandFailed whose output reports
	// an expected absence, such as a volume missing from the VLDB.
	ErrNoSuchEntry = errors.ConstError("no such entry")

	// ErrInvariant marks an internal consistency check that failed:
	// a broken cluster or a bug, never a transient condition.
	ErrInvariant = errors.ConstError("invariant violation")
)

// FailureKind distinguishes the variants of a failed command.
type FailureKind int

const (
	// Failed is a generic non-zero exit.
	Failed FailureKind = iota
	// NoSuchEntry is a non-zero exit caused by an absent entry.
	NoSuchEntry
)

func (k FailureKind) String() string {
	switch k {
	case NoSuchEntry:
		return "no such entry"
	}
	return "failed"
}

// CommandFailed describes an external command that exited non-zero.
// Tail holds at most the configured number of trailing output lines.
type CommandFailed struct {
	Argv []string
	Code int
	Tail []string
	Kind FailureKind
}

// Error is part of the error interface.
func (e *CommandFailed) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q exited with code %d", shellquote.Join(e.Argv...), e.Code)
	if e.Kind == NoSuchEntry {
		b.WriteString(" (no such entry)")
	}
	if len(e.Tail) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Tail, "\n"))
	}
	return b.String()
}

// Is lets errors.Is select the failure variant.
func (e *CommandFailed) Is(target error) bool {
	switch target {
	case ErrCommandFailed:
		return true
	case ErrNoSuchEntry:
		return e.Kind == NoSuchEntry
	}
	return false
}

// Output returns the captured tail as a single string.
func (e *CommandFailed) Output() string {
	return strings.Join(e.Tail, "\n")
}

// AsCommandFailed returns the *CommandFailed wrapped by err, if any.
func AsCommandFailed(err error) (*CommandFailed, bool) {
	var failed *CommandFailed
	if errors.As(err, &failed) {
		return failed, true
	}
	return nil, false
}

// Invariantf returns an error satisfying errors.Is(err, ErrInvariant).
func Invariantf(format string, args ...any) error {
	return errors.Annotatef(ErrInvariant, format, args...)
}
