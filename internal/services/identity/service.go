package identity

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"safechat/internal/crypto"
	"safechat/internal/domain"
)

// Service generates connection identities.
type Service struct {
	bits int
	log  logrus.FieldLogger
}

// New returns an identity service producing RSA keys of the given size.
// Zero selects crypto.DefaultRSABits.
func New(bits int, log logrus.FieldLogger) *Service {
	if bits == 0 {
		bits = crypto.DefaultRSABits
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{bits: bits, log: log}
}

// GenerateIdentity creates a new key pair and returns it with the short
// fingerprint of its exported public key.
func (s *Service) GenerateIdentity() (*crypto.KeyStore, domain.Fingerprint, error) {
	keys, err := crypto.GenerateKeyPair(s.bits)
	if err != nil {
		return nil, "", fmt.Errorf("generating identity: %w", err)
	}
	fp := keys.Fingerprint()
	s.log.WithFields(logrus.Fields{
		"fingerprint": fp,
		"bits":        s.bits,
	}).Debug("generated connection identity")
	return keys, fp, nil
}

// Bits returns the configured modulus size.
func (s *Service) Bits() int { return s.bits }
