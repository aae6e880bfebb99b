package session

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"ircgate/internal/ipc"
	"ircgate/internal/ircline"
	"ircgate/internal/ircnick"
	"ircgate/internal/logging"
)

// Numeric replies.
const (
	rplWelcome           = "001"
	rplUModeIs           = "221"
	rplRehashing         = "382"
	rplMOTDStart         = "375"
	rplMOTD              = "372"
	rplEndOfMOTD         = "376"
	rplYoureOper         = "381"
	errNoSuchNick        = "401"
	errUnknownCommand    = "421"
	errNoMOTD            = "422"
	errNoNicknameGiven   = "431"
	errErroneousNick     = "432"
	errNicknameInUse     = "433"
	errNotRegistered     = "451"
	errNeedMoreParams    = "461"
	errAlreadyRegistered = "462"
	errPasswdMismatch    = "464"
	errNoPrivileges      = "481"
	errUModeUnknown      = "501"
	errUsersDontMatch    = "502"
)

// User modes a client may set on itself. Operator status comes from OPER.
const (
	modeOperator  = 'o'
	settableModes = "wsi"
)

type clientCommand struct {
	minArgs  int
	needsReg bool
	operOnly bool
	run      func(s *Session, argv []string)
}

var clientCommands map[string]clientCommand

func init() {
	clientCommands = map[string]clientCommand{
		"NICK":    {minArgs: 1, run: (*Session).cmdNick},
		"USER":    {minArgs: 4, run: (*Session).cmdUser},
		"PING":    {run: (*Session).cmdPing},
		"PONG":    {run: func(*Session, []string) {}},
		"QUIT":    {run: (*Session).cmdQuit},
		"MODE":    {minArgs: 1, needsReg: true, run: (*Session).cmdMode},
		"OPER":    {minArgs: 2, needsReg: true, run: (*Session).cmdOper},
		"WALLOPS": {minArgs: 1, needsReg: true, operOnly: true, run: (*Session).cmdWallops},
		"KILL":    {minArgs: 2, needsReg: true, operOnly: true, run: (*Session).cmdKill},
		"REHASH":  {needsReg: true, operOnly: true, run: (*Session).cmdRehash},
		"DIE":     {needsReg: true, operOnly: true, run: (*Session).cmdDie},
	}
}

func (s *Session) handle(line string) {
	argv := ircline.Parse(line)
	if len(argv) == 0 {
		return
	}
	name := strings.ToUpper(argv[0])
	cmd, ok := clientCommands[name]
	if !ok {
		if !s.loggedIn {
			s.numeric(errNotRegistered, ":You have not registered")
			return
		}
		s.numeric(errUnknownCommand, name+" :Unknown command")
		return
	}
	if cmd.needsReg && !s.loggedIn {
		s.numeric(errNotRegistered, ":You have not registered")
		return
	}
	if len(argv)-1 < cmd.minArgs {
		if name == "NICK" {
			s.numeric(errNoNicknameGiven, ":No nickname given")
			return
		}
		s.numeric(errNeedMoreParams, name+" :Not enough parameters")
		return
	}
	if cmd.operOnly && !s.HasMode(modeOperator) {
		s.numeric(errNoPrivileges, ":Permission denied - You're not an IRC operator")
		return
	}
	cmd.run(s, argv)
}

// numeric sends ":host NNN target rest".
func (s *Session) numeric(code, rest string) {
	target := s.nick
	if target == "" {
		target = "*"
	}
	_ = s.Send(fmt.Sprintf(":%s %s %s %s", s.info.HostName, code, target, rest))
}

func (s *Session) cmdNick(argv []string) {
	nick := argv[1]
	if !ircnick.Valid(nick) {
		s.numeric(errErroneousNick, nick+" :Erroneous nickname")
		return
	}
	if nick == s.nick {
		return
	}
	if ircnick.Equal(nick, s.info.ServiceNick) ||
		(!ircnick.Equal(nick, s.nick) && s.nickInUse != nil && s.nickInUse(nick, s)) {
		s.numeric(errNicknameInUse, nick+" :Nickname is already in use")
		return
	}
	if s.loggedIn {
		_ = s.Send(fmt.Sprintf(":%s NICK :%s", s.mask(), nick))
	}
	s.nick = nick
	s.tryRegister()
}

func (s *Session) cmdUser(argv []string) {
	if s.loggedIn || s.user != "" {
		s.numeric(errAlreadyRegistered, ":You may not reregister")
		return
	}
	s.user = argv[1]
	s.realName = argv[4]
	s.tryRegister()
}

func (s *Session) tryRegister() {
	if s.loggedIn || s.nick == "" || s.user == "" {
		return
	}
	s.loggedIn = true
	s.numeric(rplWelcome, fmt.Sprintf(":Welcome to the %s IRC gateway, %s", s.info.HostName, s.mask()))
	if s.info.MOTD == "" {
		s.numeric(errNoMOTD, ":MOTD File is missing")
	} else {
		s.numeric(rplMOTDStart, fmt.Sprintf(":- %s Message of the day -", s.info.HostName))
		s.numeric(rplMOTD, ":- "+s.info.MOTD)
		s.numeric(rplEndOfMOTD, ":End of MOTD command")
	}
	s.logger.Info("client registered",
		logging.String(logging.FieldEventType, "session_registered"),
		logging.String("nick", s.nick),
		logging.String("user", s.user),
	)
	s.bus.SendToSupervisor([]string{"LILO", fmt.Sprintf("%s logged in", s.mask())})
}

func (s *Session) cmdPing(argv []string) {
	token := s.info.HostName
	if len(argv) > 1 {
		token = argv[1]
	}
	_ = s.Send(fmt.Sprintf(":%s PONG %s :%s", s.info.HostName, s.info.HostName, token))
}

func (s *Session) cmdQuit(argv []string) {
	reason := "Client quit"
	if len(argv) > 1 && argv[1] != "" {
		reason = "Quit: " + argv[1]
	}
	if s.loggedIn {
		s.bus.SendToSupervisor([]string{"LILO", fmt.Sprintf("%s logged out", s.mask())})
	}
	s.Kill(reason)
}

func (s *Session) cmdMode(argv []string) {
	target := argv[1]
	if !ircnick.Equal(target, s.nick) {
		s.numeric(errUsersDontMatch, ":Cannot change mode for other users")
		return
	}
	if len(argv) < 3 {
		s.numeric(rplUModeIs, s.Modes())
		return
	}

	on := true
	var changes strings.Builder
	lastSign := byte(0)
	unknown := false
	for i := 0; i < len(argv[2]); i++ {
		c := argv[2][i]
		switch {
		case c == '+':
			on = true
		case c == '-':
			on = false
		case strings.IndexByte(settableModes, c) >= 0 || (c == modeOperator && !on):
			if !s.setMode(c, on) {
				continue
			}
			sign := byte('-')
			if on {
				sign = '+'
			}
			if sign != lastSign {
				changes.WriteByte(sign)
				lastSign = sign
			}
			changes.WriteByte(c)
		case c == modeOperator:
		default:
			unknown = true
		}
	}
	if unknown {
		s.numeric(errUModeUnknown, ":Unknown MODE flag")
	}
	if changes.Len() > 0 {
		_ = s.Send(fmt.Sprintf(":%s MODE %s :%s", s.nick, s.nick, changes.String()))
	}
}

func (s *Session) cmdOper(argv []string) {
	password := s.info.OperPassword
	if password == "" || subtle.ConstantTimeCompare([]byte(argv[2]), []byte(password)) != 1 {
		s.numeric(errPasswdMismatch, ":Password incorrect")
		logging.WarnWithContext(s.logger, "operator login failed", "oper_failed",
			logging.String("nick", s.nick),
			logging.String(logging.FieldErrorHint, "check server.oper_password"),
			logging.String(logging.FieldImpact, "client not granted operator status"),
		)
		return
	}
	s.setMode(modeOperator, true)
	s.numeric(rplYoureOper, ":You are now an IRC operator")
	_ = s.Send(fmt.Sprintf(":%s MODE %s :+o", s.nick, s.nick))
	s.logger.Info("operator login", logging.String(logging.FieldEventType, "oper_granted"), logging.String("nick", s.nick))
}

func (s *Session) cmdWallops(argv []string) {
	s.bus.SendToSupervisor([]string{"WALLOPS", argv[1]})
}

func (s *Session) cmdKill(argv []string) {
	target := argv[1]
	if ircnick.Equal(target, s.info.ServiceNick) {
		s.numeric(errNoSuchNick, target+" :No such nick/channel")
		return
	}
	s.logger.Info("operator kill",
		logging.String(logging.FieldCommand, "kill"),
		logging.String("target", target),
	)
	s.bus.SendToSupervisor([]string{"KILL", target, argv[2]})
}

func (s *Session) cmdRehash([]string) {
	s.numeric(rplRehashing, "config :Rehashing")
	s.bus.SendToSupervisor([]string{"REHASH"})
}

func (s *Session) cmdDie([]string) {
	s.logger.Info("operator requested shutdown", logging.String(logging.FieldCommand, "die"))
	s.bus.SendToSupervisor([]string{"DIE"})
}

var _ ipc.Session = (*Session)(nil)
