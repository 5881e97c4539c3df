package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/chunkarchive/chunkarchive/pkg/config"
	"github.com/chunkarchive/chunkarchive/pkg/logging"
)

// configPath is bound to the persistent --config flag in main.go.
var configPath string

// loadConfiguration loads the CLI's configuration, applying a .env
// overlay (if a .env file exists in the working directory) and then
// environment variable overrides, in that order, matching the teacher's
// "file, then environment" precedence for CLI-level configuration.
func loadConfiguration() (*config.Configuration, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	path := configPath
	if path == "" {
		path = "chunkarchive.toml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	config.ApplyEnvironmentOverrides(cfg)
	return cfg, nil
}

// newLogger constructs a logger at the level named by cfg.LogLevel,
// writing to standard error.
func newLogger(cfg *config.Configuration) *logging.Logger {
	level, ok := logging.NameToLevel(cfg.LogLevel)
	if !ok {
		level = logging.LevelInfo
	}
	return logging.NewLogger(level, os.Stderr)
}

// colorEnabled reports whether colorized output should be used, gating on
// whether standard output is a terminal (matching the teacher's use of
// go-isatty to decide when fatih/color escape sequences are appropriate).
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// printProgress prints a single overwriting status line, colorized in a
// terminal and plain otherwise.
func printProgress(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if colorEnabled() {
		fmt.Fprintf(color.Output, "\r%s", color.CyanString(message))
	} else {
		fmt.Printf("\r%s", message)
	}
}

// finishProgress terminates a sequence of printProgress calls with a
// trailing newline.
func finishProgress() {
	fmt.Println()
}
