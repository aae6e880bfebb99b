// Package ircline splits IRC-style protocol lines into argument vectors and
// builds them back.
//
// The same encoding is used on client connections and on the internal
// control channel between gateway processes: whitespace separated tokens,
// where a token starting with ':' swallows the rest of the line.
package ircline

import "strings"

// Terminator ends every line on the wire.
const Terminator = "\r\n"

// Parse returns the argument vector for line. A leading ":prefix" token is
// dropped. The result is empty when the line carries no command.
func Parse(line string) []string {
	line = strings.TrimRight(line, Terminator)
	if strings.HasPrefix(line, ":") {
		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			return nil
		}
		line = line[idx+1:]
	}

	var argv []string
	for {
		line = strings.TrimLeft(line, " ")
		if line == "" {
			return argv
		}
		if line[0] == ':' && len(argv) > 0 {
			return append(argv, line[1:])
		}
		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			return append(argv, line)
		}
		argv = append(argv, line[:idx])
		line = line[idx+1:]
	}
}

// Build encodes argv as one terminated line. The last argument is sent as a
// trailing parameter when it would not survive a plain split.
func Build(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	var b strings.Builder
	for i, arg := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i == len(argv)-1 && i > 0 && needsTrailing(arg) {
			b.WriteByte(':')
		}
		b.WriteString(arg)
	}
	b.WriteString(Terminator)
	return b.String()
}

// Trim strips a trailing terminator, if any.
func Trim(line string) string {
	return strings.TrimSuffix(line, Terminator)
}

func needsTrailing(arg string) bool {
	return arg == "" || strings.HasPrefix(arg, ":") || strings.ContainsRune(arg, ' ')
}
