// Copyright 2026 The afscell Authors.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command afscell bootstraps and tears down OpenAFS cells described
// by a YAML file.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("afscell.cmd")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
