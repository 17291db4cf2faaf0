// Package connection drives one peer-to-peer chat connection from start to
// finish.
//
// A Service opens the TCP transport for its role, runs the key exchange,
// wraps the result in a secure channel and pumps inbound messages to the
// caller. Lifecycle notifications are delivered through Events on a
// per-attempt queue, in the order the transitions happened, so callbacks may
// call back into the Service (including Stop) freely.
package connection
