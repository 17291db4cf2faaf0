// Package channel provides the two domain.Channel implementations.
//
// Plain moves text frames over a transport connection unchanged. Secure owns
// a Plain and encrypts every outbound message under the negotiated session
// key, decrypting inbound frames before they reach the caller. Secure adds
// behaviour by composition: it never reaches past its Plain to the socket.
//
// Both channels expect a single goroutine in Receive. Send may be called
// from other goroutines; writes are serialised by the transport.
package channel
