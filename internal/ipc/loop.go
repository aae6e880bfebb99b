package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sys/unix"

	"ircgate/internal/logging"
)

// Subscription identifies one Watch registration.
type Subscription uint64

// Watcher hands out readiness subscriptions.
type Watcher interface {
	Watch(fd int, fn func()) Subscription
	Cancel(sub Subscription)
	// Stall stops reporting sub as readable for StallInterval. Hangups and
	// errors are still reported. Callers stall a descriptor that holds only
	// part of a message, which would otherwise stay readable on every turn.
	Stall(sub Subscription)
}

type watch struct {
	fd           int
	fn           func()
	stalledUntil time.Time
}

// Loop is a single-goroutine readiness loop over poll(2). Callbacks run on
// the goroutine that calls Run or RunOnce, one at a time.
type Loop struct {
	logger  *slog.Logger
	watches map[Subscription]watch
	next    Subscription
	tick    time.Duration
}

// DefaultTick bounds how long Run waits in poll before rechecking its context.
const DefaultTick = 250 * time.Millisecond

// StallInterval is how long a stalled descriptor is left out of readability
// polling.
const StallInterval = 20 * time.Millisecond

const readyMask = unix.POLLIN | unix.POLLRDHUP | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// NewLoop creates an empty loop.
func NewLoop(logger *slog.Logger) *Loop {
	return &Loop{
		logger:  logging.NewComponentLogger(logger, "loop"),
		watches: make(map[Subscription]watch),
		tick:    DefaultTick,
	}
}

// Watch calls fn whenever fd is readable, its peer has hung up, or it is in
// error.
func (l *Loop) Watch(fd int, fn func()) Subscription {
	l.next++
	l.watches[l.next] = watch{fd: fd, fn: fn}
	return l.next
}

// Cancel drops a subscription. Cancelling twice, or cancelling the zero
// Subscription, does nothing. A cancelled callback is not run later in the
// same turn even if its descriptor was already reported ready.
func (l *Loop) Cancel(sub Subscription) {
	delete(l.watches, sub)
}

// Stall implements Watcher. Stalling an unknown subscription does nothing.
func (l *Loop) Stall(sub Subscription) {
	w, ok := l.watches[sub]
	if !ok {
		return
	}
	w.stalledUntil = time.Now().Add(StallInterval)
	l.watches[sub] = w
}

// Len reports the number of live subscriptions.
func (l *Loop) Len() int {
	return len(l.watches)
}

// RunOnce polls for at most timeout and dispatches every ready descriptor
// in subscription order. A negative timeout waits indefinitely. While a
// descriptor is stalled the wait ends no later than its stall.
func (l *Loop) RunOnce(timeout time.Duration) error {
	subs := make([]Subscription, 0, len(l.watches))
	for sub := range l.watches {
		subs = append(subs, sub)
	}
	slices.Sort(subs)

	now := time.Now()
	fds := make([]unix.PollFd, len(subs))
	for i, sub := range subs {
		w := l.watches[sub]
		events := int16(unix.POLLIN | unix.POLLRDHUP)
		if w.stalledUntil.After(now) {
			events = unix.POLLRDHUP
			if wait := w.stalledUntil.Sub(now); timeout < 0 || wait < timeout {
				timeout = wait
			}
		}
		fds[i] = unix.PollFd{Fd: int32(w.fd), Events: events}
	}

	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.Poll(fds, ms)
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return nil
	}

	for i, sub := range subs {
		if fds[i].Revents&readyMask == 0 {
			continue
		}
		w, ok := l.watches[sub]
		if !ok {
			continue
		}
		w.fn()
	}
	return nil
}

// Run dispatches until ctx is cancelled or poll fails.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("readiness loop started", logging.Int("watches", len(l.watches)))
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("readiness loop stopped")
			return nil
		default:
		}
		if err := l.RunOnce(l.tick); err != nil {
			return err
		}
	}
}
