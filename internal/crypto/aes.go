package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"safechat/internal/domain"
)

// SessionKeySize is the length of a symmetric session key (AES-256).
const SessionKeySize = 32

var (
	errEmptyPlaintext = fmt.Errorf("%w: plaintext cannot be empty", domain.ErrEmptyMessage)
	errEmptyKey       = fmt.Errorf("%w: key cannot be empty", domain.ErrKeyFormat)
)

// GenerateSessionKey returns a fresh random 256-bit session key.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}
	return key, nil
}

// CBC encrypts messages with AES-256-CBC and PKCS#7 padding.
//
// Frames are base64(IV || ciphertext) with a fresh random IV per call. There
// is no integrity tag; see CBCHMAC.
type CBC struct{}

// Name implements domain.Cipher.
func (CBC) Name() string { return "cbc" }

// Encrypt implements domain.Cipher.
func (CBC) Encrypt(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", errEmptyPlaintext
	}
	if len(key) == 0 {
		return "", errEmptyKey
	}
	raw, err := sealCBC([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return B64(raw), nil
}

// Decrypt implements domain.Cipher. Malformed frames, wrong keys and bad
// padding all fail with ErrDecryption.
func (CBC) Decrypt(frame string, key []byte) (string, error) {
	if frame == "" || len(key) == 0 {
		return "", fmt.Errorf("%w: empty frame or key", domain.ErrDecryption)
	}
	raw, err := FromB64(frame)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	plain, err := openCBC(raw, key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// sealCBC returns IV || AES-CBC(pkcs7(plain)).
func sealCBC(plain, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generating iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// openCBC reverses sealCBC.
func openCBC(raw, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes key: %v", domain.ErrDecryption, err)
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: frame length %d", domain.ErrDecryption, len(raw))
	}
	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padded length", domain.ErrDecryption)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("%w: bad padding", domain.ErrDecryption)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", domain.ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}

// CipherByName returns the cipher registered under name. An empty name
// selects CBC.
func CipherByName(name string) (domain.Cipher, error) {
	switch name {
	case "", CBC{}.Name():
		return CBC{}, nil
	case CBCHMAC{}.Name():
		return CBCHMAC{}, nil
	}
	return nil, fmt.Errorf("unknown cipher %q", name)
}

var (
	_ domain.Cipher = CBC{}
	_ domain.Cipher = CBCHMAC{}
)
