package ipc

import (
	"fmt"
	"strings"
)

// Role is the part this process plays. It is fixed for the process lifetime.
type Role int

const (
	// RoleStandalone runs supervisor and worker logic in one process.
	RoleStandalone Role = iota
	// RoleSupervisor owns one worker process per client connection.
	RoleSupervisor
	// RoleWorker serves one client and talks to its supervisor over an uplink.
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleStandalone:
		return "standalone"
	case RoleSupervisor:
		return "supervisor"
	case RoleWorker:
		return "worker"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Outcome tells the caller of a command what to do with the source
// connection afterwards.
type Outcome int

const (
	Continue Outcome = iota
	// Teardown means the handler ended the source session.
	Teardown
)

func (o Outcome) String() string {
	if o == Teardown {
		return "teardown"
	}
	return "continue"
}

// Routing selects between local execution and forwarding.
type Routing int

const (
	Local Routing = iota
	Forward
)

func (r Routing) String() string {
	if r == Forward {
		return "forward"
	}
	return "local"
}

// Session is the client connection a worker-side command acts on. IRC state
// lives outside this package and is only queried here.
type Session interface {
	ID() string
	LoggedIn() bool
	HasMode(mode byte) bool
	Nick() string
	// Host is the server name the session was greeted with.
	Host() string
	// ServiceNick is the nick the gateway itself speaks as.
	ServiceNick() string
	Send(line string) error
	// Kill closes the connection immediately, giving reason to the client.
	Kill(reason string)
}

// Process is the daemon the commands steer.
type Process interface {
	Shutdown(reason string)
	// Rehash reloads configuration. The run mode never changes.
	Rehash() error
}

// Handler executes a command locally. sess is nil for supervisor commands.
type Handler func(b *Bus, sess Session, argv []string) Outcome

// Command describes one entry of a command table.
type Command struct {
	Name    string
	MinArgs int
	Routing Routing
	Handler Handler
}

// Table is an immutable, ordered set of commands for one side of the
// control channel. Lookups ignore case.
type Table struct {
	side   Role
	order  []Command
	byName map[string]int
}

// NewTable validates cmds and builds the table for side, which must be
// RoleSupervisor or RoleWorker. Forwarded commands travel away from side:
// supervisor commands go down to workers, worker commands up to the
// supervisor.
func NewTable(side Role, cmds ...Command) (*Table, error) {
	if side != RoleSupervisor && side != RoleWorker {
		return nil, fmt.Errorf("command table side must be supervisor or worker, got %s", side)
	}
	t := &Table{side: side, byName: make(map[string]int, len(cmds))}
	for _, cmd := range cmds {
		key := strings.ToLower(cmd.Name)
		if key == "" {
			return nil, fmt.Errorf("%s table: command without name", side)
		}
		if _, dup := t.byName[key]; dup {
			return nil, fmt.Errorf("%s table: duplicate command %q", side, cmd.Name)
		}
		if cmd.MinArgs < 0 {
			return nil, fmt.Errorf("%s table: %s: negative argument count", side, cmd.Name)
		}
		switch cmd.Routing {
		case Forward:
			if cmd.Handler != nil {
				return nil, fmt.Errorf("%s table: %s: forwarded command cannot have a handler", side, cmd.Name)
			}
		case Local:
			if cmd.Handler == nil {
				return nil, fmt.Errorf("%s table: %s: local command needs a handler", side, cmd.Name)
			}
		default:
			return nil, fmt.Errorf("%s table: %s: unknown routing %d", side, cmd.Name, int(cmd.Routing))
		}
		t.byName[key] = len(t.order)
		t.order = append(t.order, cmd)
	}
	return t, nil
}

// Side reports which process role executes this table.
func (t *Table) Side() Role { return t.side }

// Lookup finds name case-insensitively.
func (t *Table) Lookup(name string) (Command, bool) {
	idx, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return Command{}, false
	}
	return t.order[idx], true
}

// Commands returns the table in declaration order.
func (t *Table) Commands() []Command {
	out := make([]Command, len(t.order))
	copy(out, t.order)
	return out
}
