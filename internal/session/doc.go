// Package session holds the state of one IRC client connection.
//
// A Session is the minimal client a gateway needs to exercise its control
// plane: registration with NICK and USER, user modes, operator login, and
// the operator commands that travel to the supervisor (WALLOPS, KILL,
// REHASH, DIE). It implements ipc.Session so control commands coming back
// from the supervisor act on it directly. Client lines use the same CRLF
// framing and 512 byte limit as the control channel.
package session
