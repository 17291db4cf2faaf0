// Package identity creates the per-connection RSA identity used by the key
// exchange and reports its fingerprint.
//
// Identities are never persisted: each connection attempt gets a fresh key
// pair, so no two connections share key material.
package identity
