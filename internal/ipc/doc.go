// Package ipc carries control commands between gateway processes.
//
// It owns line framing on the control sockets, the supervisor and worker
// command tables, the router that either runs a command locally or forwards
// it, the registry of connected worker peers, and the poll-based readiness
// loop that drives all of it. Every routing decision consults the Bus role,
// so a standalone process behaves exactly like a supervisor and its workers
// collapsed into one: forwarding becomes a direct local call.
//
// Everything in this package runs on the loop goroutine. Nothing here locks.
package ipc
