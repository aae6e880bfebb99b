package ipc

import (
	"errors"
	"log/slog"

	"ircgate/internal/logging"
)

// Peer is one connected worker as seen by the supervisor, or the uplink as
// seen by a worker.
type Peer struct {
	id      uint64
	name    string
	conn    Conn
	sub     Subscription
	removed bool
}

// ID is unique within the registry that created the peer.
func (p *Peer) ID() uint64 { return p.id }

// Name is a label for logs, such as the client address the worker serves.
func (p *Peer) Name() string { return p.name }

// Removed reports whether the peer has been released.
func (p *Peer) Removed() bool { return p.removed }

// Registry tracks the supervisor's worker connections. Entries are only added
// and removed on the loop goroutine.
type Registry struct {
	watcher Watcher
	logger  *slog.Logger
	onLine  func(p *Peer, line string)
	peers   []*Peer
	nextID  uint64
}

// NewRegistry creates a registry whose peers are watched by w. onLine gets
// every complete message a peer sends.
func NewRegistry(w Watcher, onLine func(p *Peer, line string), logger *slog.Logger) *Registry {
	return &Registry{
		watcher: w,
		logger:  logging.NewComponentLogger(logger, "peer-registry"),
		onLine:  onLine,
	}
}

// Add registers conn and subscribes to its readiness.
func (r *Registry) Add(conn Conn, name string) *Peer {
	r.nextID++
	p := &Peer{id: r.nextID, name: name, conn: conn}
	p.sub = r.watcher.Watch(conn.Fd(), func() { r.OnReadable(p) })
	r.peers = append(r.peers, p)
	r.logger.Debug("peer added",
		logging.Uint64(logging.FieldPeer, p.id),
		logging.String("peer_name", name),
		logging.Int("peer_count", len(r.peers)),
	)
	return p
}

// Len reports the number of live peers.
func (r *Registry) Len() int { return len(r.peers) }

// Peers returns a snapshot of the live peers in insertion order.
func (r *Registry) Peers() []*Peer {
	out := make([]*Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Broadcast writes line, terminated, to every peer and returns how many
// received it in full. A peer whose write fails or comes up short is removed
// after the others have been served.
func (r *Registry) Broadcast(line string) int {
	var failed []*Peer
	delivered := 0
	for _, p := range r.peers {
		if err := WriteFrame(p.conn, line); err != nil {
			r.logger.Debug("peer write failed",
				logging.Uint64(logging.FieldPeer, p.id),
				logging.Error(err),
			)
			failed = append(failed, p)
			continue
		}
		delivered++
	}
	for _, p := range failed {
		r.Remove(p)
	}
	return delivered
}

// Remove cancels the peer's subscription, closes its connection and drops it
// from the set. Removing a peer twice is a no-op.
func (r *Registry) Remove(p *Peer) {
	if p == nil || p.removed {
		return
	}
	p.removed = true
	r.watcher.Cancel(p.sub)
	if err := p.conn.Close(); err != nil {
		r.logger.Debug("peer close failed", logging.Uint64(logging.FieldPeer, p.id), logging.Error(err))
	}
	for i, other := range r.peers {
		if other == p {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			break
		}
	}
	r.logger.Debug("peer removed",
		logging.Uint64(logging.FieldPeer, p.id),
		logging.String("peer_name", p.name),
		logging.Int("peer_count", len(r.peers)),
	)
}

// OnReadable frames one message from p and hands it to the line callback.
// A closed or misbehaving peer is removed.
func (r *Registry) OnReadable(p *Peer) {
	if p.removed {
		return
	}
	line, err := ReadFrame(p.conn)
	switch {
	case errors.Is(err, ErrNoFrame):
		if errors.Is(err, ErrPartialFrame) {
			r.watcher.Stall(p.sub)
		}
		return
	case err != nil:
		r.logger.Debug("peer disconnected", logging.Uint64(logging.FieldPeer, p.id), logging.Error(err))
		r.Remove(p)
		return
	}
	if r.onLine != nil {
		r.onLine(p, line)
	}
}

// Close removes every peer.
func (r *Registry) Close() {
	for _, p := range r.Peers() {
		r.Remove(p)
	}
}
