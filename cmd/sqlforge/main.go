// Package main provides the sqlforge CLI.
//
// The CLI supports:
//   - migrate: apply, revert, inspect and repair versioned migrations
//   - generate: compile query files into typed Go accessors
//   - derive: render, verify and rebuild trigger-maintained tables
//   - version: print build information
//
// Configuration is read from sqlforge.yaml, discovered by walking up from
// the working directory to the repository root, from SQLFORGE_* environment
// variables and .env files, and from flags.
//
// Usage:
//
//	sqlforge [flags] <command>
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, &app{stdout: os.Stdout, stderr: os.Stderr, fs: afero.NewOsFs()}, os.Args[1:])
	stop()
	os.Exit(code)
}
