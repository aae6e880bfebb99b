// Package logging assembles the structured slog loggers used across the
// gateway processes.
//
// It owns the console and JSON handlers, level and output plumbing, the
// standard field keys, and a no-op logger for tests and wiring code that
// cannot fail. Worker processes inherit the supervisor's stdout and stderr,
// so every process logs with the same shape; a component attribute and the
// role attribute tell the lines apart.
package logging
