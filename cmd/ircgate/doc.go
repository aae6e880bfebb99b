// Package main hosts the ircgate CLI entrypoint and command graph.
//
// The Cobra command tree starts the gateway in its configured run mode,
// re-enters the binary as a forkdaemon worker, scaffolds and validates the
// configuration file, and prints the control command tables. Configuration
// resolution lives here once so subcommands only deal with their own flags.
//
// Keep this package lean: behaviour belongs in the internal packages and is
// surfaced through dedicated commands or flags here.
package main
