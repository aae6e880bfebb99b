package ipc

import (
	"fmt"

	"ircgate/internal/ircnick"
	"ircgate/internal/logging"
)

// User mode flags consulted by worker commands.
const (
	ModeWallops       = 'w'
	ModeServerNotices = 's'
)

// Built in init: the handlers route back through these tables.
var supervisorTable, workerTable *Table

func init() {
	supervisorTable = mustTable(RoleSupervisor,
		Command{Name: "die", MinArgs: 0, Routing: Local, Handler: supervisorDie},
		Command{Name: "wallops", MinArgs: 1, Routing: Forward},
		Command{Name: "lilo", MinArgs: 1, Routing: Forward},
		Command{Name: "rehash", MinArgs: 0, Routing: Local, Handler: supervisorRehash},
		Command{Name: "kill", MinArgs: 2, Routing: Forward},
	)
	workerTable = mustTable(RoleWorker,
		Command{Name: "die", MinArgs: 0, Routing: Local, Handler: workerDie},
		Command{Name: "wallops", MinArgs: 1, Routing: Local, Handler: workerWallops},
		Command{Name: "lilo", MinArgs: 1, Routing: Local, Handler: workerLilo},
		Command{Name: "rehash", MinArgs: 0, Routing: Local, Handler: workerRehash},
		Command{Name: "kill", MinArgs: 2, Routing: Local, Handler: workerKill},
	)
}

// SupervisorCommands is the table the supervisor side executes.
func SupervisorCommands() *Table { return supervisorTable }

// WorkerCommands is the table the worker side executes.
func WorkerCommands() *Table { return workerTable }

func mustTable(side Role, cmds ...Command) *Table {
	t, err := NewTable(side, cmds...)
	if err != nil {
		panic(err)
	}
	return t
}

func supervisorDie(b *Bus, _ Session, _ []string) Outcome {
	if b.role == RoleSupervisor {
		b.SendToWorkersRaw("DIE")
	}
	b.proc.Shutdown("die command")
	return Continue
}

func supervisorRehash(b *Bus, _ Session, argv []string) Outcome {
	if err := b.proc.Rehash(); err != nil {
		logging.WarnWithContext(b.logger, "rehash failed; keeping previous configuration", "rehash_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the configuration file and rehash again"),
			logging.String(logging.FieldImpact, "configuration changes not applied"),
		)
	}
	if b.role == RoleSupervisor {
		b.SendToWorkers(argv)
	}
	return Continue
}

func workerDie(b *Bus, _ Session, _ []string) Outcome {
	b.proc.Shutdown("die command")
	return Continue
}

func workerWallops(_ *Bus, sess Session, argv []string) Outcome {
	if sess == nil || !sess.LoggedIn() {
		return Continue
	}
	if sess.HasMode(ModeWallops) {
		_ = sess.Send(fmt.Sprintf(":%s WALLOPS :%s", sess.Host(), argv[1]))
	}
	return Continue
}

func workerLilo(_ *Bus, sess Session, argv []string) Outcome {
	if sess == nil || !sess.LoggedIn() {
		return Continue
	}
	if sess.HasMode(ModeServerNotices) {
		_ = sess.Send(fmt.Sprintf(":%s NOTICE %s :%s", sess.Host(), sess.Nick(), argv[1]))
	}
	return Continue
}

func workerRehash(b *Bus, _ Session, _ []string) Outcome {
	if err := b.proc.Rehash(); err != nil {
		logging.WarnWithContext(b.logger, "rehash failed; keeping previous configuration", "rehash_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "configuration changes not applied"),
		)
	}
	return Continue
}

func workerKill(b *Bus, sess Session, argv []string) Outcome {
	if sess == nil || !sess.LoggedIn() {
		return Continue
	}
	if !ircnick.Equal(argv[1], sess.Nick()) {
		return Continue
	}
	svc := sess.ServiceNick()
	_ = sess.Send(fmt.Sprintf(":%s!%s@%s KILL %s :%s", svc, svc, sess.Host(), sess.Nick(), argv[2]))
	sess.Kill(argv[2])
	b.logger.Info("session killed by operator",
		logging.String(logging.FieldEventType, "session_killed"),
		logging.String(logging.FieldSessionID, sess.ID()),
		logging.String("nick", argv[1]),
		logging.String("reason", argv[2]),
	)
	return Teardown
}
