// Package daemonctl inspects and signals a listening gateway through the
// pid and lock files in its state directory. SIGHUP rehashes, SIGTERM stops.
package daemonctl
