package daemon

import (
	"errors"
	"sync"

	"ircgate/internal/ipc"
	"ircgate/internal/logging"
)

// injector feeds control lines from other goroutines, such as signal
// handlers, into the loop. Lines are routed as if a worker had sent them
// to the supervisor.
type injector struct {
	mu     sync.Mutex
	writer *ipc.Socket
	reader *ipc.Socket
	sub    ipc.Subscription
}

func (d *Daemon) startInject() error {
	reader, writer, err := ipc.Socketpair()
	if err != nil {
		return err
	}
	in := &injector{reader: reader, writer: writer}
	in.sub = d.loop.Watch(reader.Fd(), func() { d.onInject(in) })
	d.inject = in
	return nil
}

// Inject queues a control command, for example "REHASH", for the loop. It is
// safe from any goroutine.
func (d *Daemon) Inject(line string) error {
	if d.inject == nil {
		return errors.New("daemon not started")
	}
	return d.inject.send(line)
}

func (in *injector) send(line string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return ipc.WriteFrame(in.writer, line)
}

func (in *injector) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	_ = in.writer.Close()
	_ = in.reader.Close()
}

func (d *Daemon) onInject(in *injector) {
	for {
		line, err := ipc.ReadFrame(in.reader)
		if errors.Is(err, ipc.ErrNoFrame) {
			if errors.Is(err, ipc.ErrPartialFrame) {
				d.loop.Stall(in.sub)
			}
			return
		}
		if err != nil {
			d.logger.Debug("inject pipe closed", logging.Error(err))
			d.loop.Cancel(in.sub)
			return
		}
		d.logger.Debug("injected control command", logging.String(logging.FieldCommand, line))
		d.bus.SendToSupervisorRaw(line)
	}
}
