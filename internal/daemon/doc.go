// Package daemon lays out the gateway processes for each run mode.
//
// A Daemon owns the readiness loop, the ipc bus, the listening socket and
// the client sessions of one process. In inetd and daemon mode everything
// runs in a single standalone process. In forkdaemon mode the daemon is a
// supervisor that re-executes itself as one worker per accepted client and
// keeps the worker control sockets in its peer registry. The worker side is
// built by NewWorker from the descriptors it inherits.
//
// Listening run modes hold an advisory lock under the state directory so only
// one instance serves a given configuration. Shutdown may be called from any
// goroutine; everything else runs on the loop goroutine.
package daemon
