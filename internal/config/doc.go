// Package config loads, normalizes, and validates ircgate configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours the IRCGATE_RUN_MODE environment override. Reload
// re-reads the same file for a rehash and pins the run mode the process was
// started with, since a running daemon cannot change how it is laid out.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical run modes, and clear validation errors.
package config
