package crypto

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"safechat/internal/domain"
	"safechat/internal/util/memzero"
)

const (
	tagSize = sha256.Size

	hkdfInfoEnc = "safechat-cbc-hmac-enc"
	hkdfInfoMAC = "safechat-cbc-hmac-mac"
)

// CBCHMAC is AES-256-CBC followed by HMAC-SHA256 over IV || ciphertext
// (encrypt-then-MAC).
//
// Independent encryption and MAC keys are derived from the session key with
// HKDF-SHA256. Frames are base64(IV || ciphertext || tag), so they travel
// exactly like CBC frames. Both peers must select the same cipher.
type CBCHMAC struct{}

// Name implements domain.Cipher.
func (CBCHMAC) Name() string { return "cbc-hmac" }

// Encrypt implements domain.Cipher.
func (CBCHMAC) Encrypt(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", errEmptyPlaintext
	}
	if len(key) == 0 {
		return "", errEmptyKey
	}
	encKey, macKey, err := deriveKeys(key)
	if err != nil {
		return "", err
	}
	defer memzero.ZeroAll(encKey, macKey)

	raw, err := sealCBC([]byte(plaintext), encKey)
	if err != nil {
		return "", err
	}
	return B64(append(raw, mac(macKey, raw)...)), nil
}

// Decrypt implements domain.Cipher. The tag is checked before any
// decryption is attempted.
func (CBCHMAC) Decrypt(frame string, key []byte) (string, error) {
	if frame == "" || len(key) == 0 {
		return "", fmt.Errorf("%w: empty frame or key", domain.ErrDecryption)
	}
	raw, err := FromB64(frame)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	if len(raw) < 2*aes.BlockSize+tagSize {
		return "", fmt.Errorf("%w: frame length %d", domain.ErrDecryption, len(raw))
	}

	encKey, macKey, err := deriveKeys(key)
	if err != nil {
		return "", err
	}
	defer memzero.ZeroAll(encKey, macKey)

	body, tag := raw[:len(raw)-tagSize], raw[len(raw)-tagSize:]
	if !hmac.Equal(tag, mac(macKey, body)) {
		return "", fmt.Errorf("%w: authentication tag mismatch", domain.ErrDecryption)
	}
	plain, err := openCBC(body, encKey)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func deriveKeys(key []byte) (encKey, macKey []byte, err error) {
	encKey = make([]byte, SessionKeySize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(hkdfInfoEnc)), encKey); err != nil {
		return nil, nil, fmt.Errorf("hkdf: %w", err)
	}
	macKey = make([]byte, SessionKeySize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(hkdfInfoMAC)), macKey); err != nil {
		memzero.Zero(encKey)
		return nil, nil, fmt.Errorf("hkdf: %w", err)
	}
	return encKey, macKey, nil
}

func mac(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
