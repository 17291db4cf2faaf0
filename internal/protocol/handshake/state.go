package handshake

import "fmt"

// State is the progress of one key exchange.
type State int

const (
	StateIdle State = iota
	StatePubKeysExchanged
	StateSessionKeySent
	StateSessionKeyReceived
	StateVerified
	StateFailed
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StatePubKeysExchanged:   "pubkeys-exchanged",
	StateSessionKeySent:     "session-key-sent",
	StateSessionKeyReceived: "session-key-received",
	StateVerified:           "verified",
	StateFailed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}
