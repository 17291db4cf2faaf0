package domain

import "fmt"

// Role selects which side of the key exchange a peer runs.
type Role string

const (
	// RoleServer accepts one inbound connection and acts as the handshake acceptor.
	RoleServer Role = "server"

	// RoleClient dials out and acts as the handshake initiator.
	RoleClient Role = "client"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleServer, RoleClient:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// String returns the string form of the role.
func (r Role) String() string { return string(r) }

// Initiator reports whether the role opens the key exchange.
func (r Role) Initiator() bool { return r == RoleClient }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// ConnectionState is the top-level lifecycle state of a connection.
type ConnectionState int

const (
	StateNotStarted ConnectionState = iota
	StateConnecting
	StateHandshaking
	StateEstablished
	StateClosed
	StateFaulted
)

var connectionStateNames = [...]string{
	StateNotStarted:  "not-started",
	StateConnecting:  "connecting",
	StateHandshaking: "handshaking",
	StateEstablished: "established",
	StateClosed:      "closed",
	StateFaulted:     "faulted",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(connectionStateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return connectionStateNames[s]
}

// Terminal reports whether the state ends a connection attempt.
func (s ConnectionState) Terminal() bool {
	return s == StateClosed || s == StateFaulted
}

// Active reports whether an attempt is in progress or established.
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateHandshaking || s == StateEstablished
}
