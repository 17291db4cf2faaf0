// Package transport provides the raw byte-stream layer beneath the secure
// channel: TCP dial and single-connection accept, and a frame connection
// that delimits messages with a 4-byte big-endian length prefix.
//
// Raw stream reads do not preserve write boundaries, so every frame the
// handshake and the channels exchange goes through Conn.
package transport
