// Package crypto exposes the primitives used by the SafeChat secure channel.
//
// Contents
//
//   - RSA key pairs for session-key transport and signatures (KeyStore):
//     OAEP with SHA-256 for encryption, PKCS#1 v1.5 over SHA-256 for signing
//   - Session key generation and symmetric message ciphers (CBC, CBCHMAC)
//   - SHA-256 digests used as commitments over the session key (Hash)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//   - Base64 helpers used for text-safe wire frames (B64, FromB64)
//
// # Notes
//
// A KeyStore belongs to exactly one connection attempt. Nothing in this
// package keeps process-wide key material, so concurrent connections never
// share secrets. Callers should wipe session keys with memzero.Zero once
// they are no longer needed.
//
// The CBC cipher carries no integrity tag: a modified frame that still has
// valid padding decrypts to garbage without error. CBCHMAC adds an
// encrypt-then-MAC tag while keeping the same frame shape.
package crypto
