package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"safechat/internal/domain"
)

const (
	// DefaultRSABits is the modulus size used for connection key pairs.
	DefaultRSABits = 2048

	// MinRSABits is the smallest modulus GenerateKeyPair accepts.
	MinRSABits = 2048
)

var errRemoteKeyMissing = errors.New("remote public key not set")

// KeyStore holds one peer's RSA key pair and, once learned, the remote
// peer's public key.
//
// The remote key may be imported exactly once; afterwards it is read-only,
// so a KeyStore is safe for concurrent use once the handshake has finished.
type KeyStore struct {
	priv *rsa.PrivateKey

	mu     sync.RWMutex
	remote *rsa.PublicKey
}

// GenerateKeyPair creates a KeyStore with a fresh RSA key pair of the given
// size. A zero size selects DefaultRSABits.
func GenerateKeyPair(bits int) (*KeyStore, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	if bits < MinRSABits {
		return nil, fmt.Errorf("%w: rsa modulus %d below minimum %d", domain.ErrKeyFormat, bits, MinRSABits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}
	return &KeyStore{priv: priv}, nil
}

// PublicKey returns the local public key.
func (k *KeyStore) PublicKey() *rsa.PublicKey { return &k.priv.PublicKey }

// ExportPublicKey serialises the local public key for transmission as
// base64(PKCS#1 DER).
func (k *KeyStore) ExportPublicKey() []byte {
	return []byte(B64(x509.MarshalPKCS1PublicKey(&k.priv.PublicKey)))
}

// Fingerprint returns the short fingerprint of the exported local public key.
func (k *KeyStore) Fingerprint() domain.Fingerprint {
	return domain.Fingerprint(Fingerprint(k.ExportPublicKey()))
}

// ImportRemotePublicKey parses an exported public key and stores it as the
// remote key. It fails with ErrKeyFormat on malformed input or when a remote
// key has already been set.
func (k *KeyStore) ImportRemotePublicKey(encoded []byte) error {
	pub, err := ParsePublicKey(encoded)
	if err != nil {
		return err
	}
	if pub.N.BitLen() < MinRSABits {
		return fmt.Errorf("%w: remote rsa modulus %d below minimum %d", domain.ErrKeyFormat, pub.N.BitLen(), MinRSABits)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.remote != nil {
		return fmt.Errorf("%w: remote public key already set", domain.ErrKeyFormat)
	}
	k.remote = pub
	return nil
}

// RemotePublicKey returns the imported remote key, or nil.
func (k *KeyStore) RemotePublicKey() *rsa.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.remote
}

// RemoteFingerprint returns the fingerprint of the remote key, or "" if none
// has been imported.
func (k *KeyStore) RemoteFingerprint() domain.Fingerprint {
	pub := k.RemotePublicKey()
	if pub == nil {
		return ""
	}
	return PublicKeyFingerprint(pub)
}

// PublicKeyFingerprint returns the fingerprint pub would have once exported,
// whatever encoding it was parsed from.
func PublicKeyFingerprint(pub *rsa.PublicKey) domain.Fingerprint {
	return domain.Fingerprint(Fingerprint([]byte(B64(x509.MarshalPKCS1PublicKey(pub)))))
}

// EncryptWithRemoteKey encrypts a short payload (a session key) to the
// remote peer with RSA-OAEP-SHA256.
func (k *KeyStore) EncryptWithRemoteKey(plain []byte) ([]byte, error) {
	pub := k.RemotePublicKey()
	if pub == nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyFormat, errRemoteKeyMissing)
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plain, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa-oaep encrypt: %w", err)
	}
	return out, nil
}

// DecryptWithLocalKey reverses EncryptWithRemoteKey using the local private key.
func (k *KeyStore) DecryptWithLocalKey(ciphertext []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa-oaep decrypt: %w", err)
	}
	return out, nil
}

// Sign returns an RSASSA-PKCS1-v1_5 signature over SHA-256(data).
func (k *KeyStore) Sign(data []byte) ([]byte, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.priv, crypto.SHA256, Hash(data))
	if err != nil {
		return nil, fmt.Errorf("rsa sign: %w", err)
	}
	return sig, nil
}

// Verify checks sig over data against pub.
func Verify(pub *rsa.PublicKey, data, sig []byte) bool {
	if pub == nil {
		return false
	}
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, Hash(data), sig) == nil
}

// VerifyRemote checks sig over data against the imported remote key.
func (k *KeyStore) VerifyRemote(data, sig []byte) bool {
	return Verify(k.RemotePublicKey(), data, sig)
}

// ParsePublicKey decodes base64(PKCS#1 DER) and, as a fallback,
// base64(PKIX DER) RSA public keys.
func ParsePublicKey(encoded []byte) (*rsa.PublicKey, error) {
	der, err := FromB64(string(encoded))
	if err != nil {
		return nil, err
	}
	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return pub, nil
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: not an RSA public key", domain.ErrKeyFormat)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported public key type %T", domain.ErrKeyFormat, key)
	}
	return pub, nil
}
