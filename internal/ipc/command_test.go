package ipc

import (
	"strings"
	"testing"
)

func noop(*Bus, Session, []string) Outcome { return Continue }

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name string
		side Role
		cmds []Command
		want string
	}{
		{"standalone side", RoleStandalone, nil, "must be supervisor or worker"},
		{"forward with handler", RoleSupervisor, []Command{{Name: "x", Routing: Forward, Handler: noop}}, "cannot have a handler"},
		{"local without handler", RoleWorker, []Command{{Name: "x", Routing: Local}}, "needs a handler"},
		{"duplicate", RoleWorker, []Command{{Name: "x", Handler: noop}, {Name: "X", Handler: noop}}, "duplicate"},
		{"empty name", RoleWorker, []Command{{Handler: noop}}, "without name"},
		{"negative args", RoleWorker, []Command{{Name: "x", MinArgs: -1, Handler: noop}}, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.side, tt.cmds...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestBuiltinTables(t *testing.T) {
	sup := SupervisorCommands()
	if sup.Side() != RoleSupervisor {
		t.Fatalf("supervisor table side %s", sup.Side())
	}
	wantSup := map[string]Routing{"die": Local, "wallops": Forward, "lilo": Forward, "rehash": Local, "kill": Forward}
	for name, routing := range wantSup {
		cmd, ok := sup.Lookup(strings.ToUpper(name))
		if !ok {
			t.Fatalf("supervisor table missing %s", name)
		}
		if cmd.Routing != routing {
			t.Fatalf("supervisor %s routing %s, want %s", name, cmd.Routing, routing)
		}
	}

	work := WorkerCommands()
	if len(work.Commands()) != 5 {
		t.Fatalf("expected 5 worker commands, got %d", len(work.Commands()))
	}
	for _, cmd := range work.Commands() {
		if cmd.Routing != Local || cmd.Handler == nil {
			t.Fatalf("worker command %s should run locally", cmd.Name)
		}
	}
	if kill, _ := work.Lookup("Kill"); kill.MinArgs != 2 {
		t.Fatalf("kill should need 2 args, got %d", kill.MinArgs)
	}
	if _, ok := work.Lookup("oper"); ok {
		t.Fatal("unexpected oper command")
	}
}
