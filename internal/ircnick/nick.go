// Package ircnick compares IRC nicknames the way the gateway matches
// identities everywhere else: RFC 1459 casemapping followed by Unicode case
// folding.
package ircnick

import (
	"strings"

	"golang.org/x/text/cases"
)

var (
	// rfc1459 lowers the four punctuation pairs IRC treats as case variants.
	rfc1459 = strings.NewReplacer("[", "{", "]", "}", "\\", "|", "~", "^")
	folder  = cases.Fold()
)

// Fold returns the canonical comparison form of nick.
func Fold(nick string) string {
	return folder.String(rfc1459.Replace(nick))
}

// Equal reports whether a and b name the same user.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Valid reports whether nick can be used as a nickname.
func Valid(nick string) bool {
	if nick == "" || len(nick) > 30 {
		return false
	}
	if strings.ContainsAny(nick, " ,*?!@:#&\r\n\x00") {
		return false
	}
	return !strings.HasPrefix(nick, "$") && (nick[0] < '0' || nick[0] > '9') && nick[0] != '-'
}
