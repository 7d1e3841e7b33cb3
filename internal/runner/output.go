// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

package runner

import (
	"bytes"
	"sync"
)

// ring keeps the most recent lines up to a fixed size.
type ring struct {
	lines []string
	next  int
	full  bool
}

func newRing(size int) *ring {
	if size < 0 {
		size = 0
	}
	return &ring{lines: make([]string, size)}
}

func (r *ring) add(line string) {
	if len(r.lines) == 0 {
		return
	}
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) contents() []string {
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// Output is an io.Writer that splits a command's output into lines,
// logs them, keeps a bounded tail for failure reports and, unless
// discarding, accumulates the lines returned to the caller.
type Output struct {
	mu      sync.Mutex
	opts    Options
	logger  Logger
	partial []byte
	lines   []string
	tail    *ring
}

// NewOutput returns an Output configured from opts.
func NewOutput(opts Options, logger Logger) *Output {
	return &Output{
		opts:   opts,
		logger: logger,
		tail:   newRing(opts.tailSize()),
	}
}

// Write is part of the io.Writer interface.
func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.partial = append(o.partial, p...)
	for {
		i := bytes.IndexByte(o.partial, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(o.partial[:i], "\r"))
		o.partial = o.partial[i+1:]
		o.line(line)
	}
	return len(p), nil
}

// Flush handles a trailing line that was not newline terminated.
func (o *Output) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.partial) > 0 {
		line := string(bytes.TrimRight(o.partial, "\r"))
		o.partial = nil
		o.line(line)
	}
}

func (o *Output) line(line string) {
	o.tail.add(line)
	if !o.opts.Quiet && o.logger != nil {
		if o.opts.Prefix != "" {
			o.logger.Infof("%s%s", o.opts.Prefix, line)
		} else {
			o.logger.Infof("%s", line)
		}
	}
	if o.opts.Discard {
		return
	}
	if o.opts.Sed != nil {
		line = o.opts.Sed(line)
		if line == "" {
			return
		}
	}
	o.lines = append(o.lines, line)
}

// Lines returns the accumulated output lines.
func (o *Output) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

// Tail returns the last lines written, bounded by the tail size.
func (o *Output) Tail() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tail.contents()
}
