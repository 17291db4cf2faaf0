// Package handshake implements the session-key exchange that turns a raw
// frame connection into one with an authenticated symmetric key.
//
// The initiator (client) and acceptor (server) first swap RSA public keys in
// the clear (trust on first use). The initiator then generates a 256-bit
// session key and sends, as three consecutive frames:
//
//	ENC_SESSION_KEY        RSA-OAEP-SHA256(sessionKey) under the acceptor's key
//	SESSION_KEY_HASH       base64(SHA-256(sessionKey))
//	SESSION_KEY_SIGNATURE  base64(RSA-PKCS1v15-SHA256 signature of sessionKey)
//
// The acceptor decrypts the key, recomputes the hash, checks the signature
// against the initiator's public key, and answers with a STATUS frame of
// "OK" or "NOT OK". Only after "OK" does either side hold a usable key.
//
// Any I/O error, disconnect, malformed or out-of-order frame fails the
// exchange; there are no retries.
//
// Concurrency: a Handshake runs once, from a single goroutine. State may be
// read concurrently.
package handshake
