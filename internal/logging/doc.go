// Package logging configures slog for framescope.
//
// Records are written as JSON to a size-rotated file under
// ~/.framescope/logs. When debugging in a terminal a colourised tint
// handler is fanned out to stderr alongside the file handler. In MCP mode
// nothing is written to stdout or stderr, since stdout carries the
// protocol stream.
package logging
