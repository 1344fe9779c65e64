package transport

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the length of Curve25519 public and private keys.
const KeySize = 32

// KeyPair is a node's static Curve25519 identity.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	dh, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}

	kp := &KeyPair{}
	copy(kp.Public[:], dh.Public)
	copy(kp.Private[:], dh.Private)
	return kp, nil
}

// KeyPairFromSecret derives the public key for an existing private key.
func KeyPairFromSecret(secret [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(secret) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	public, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	kp := &KeyPair{Private: secret}
	copy(kp.Public[:], public)
	return kp, nil
}

// ParseKey decodes a hex-encoded 32-byte key.
func ParseKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("decode key: %w", err)
	}
	if len(b) != KeySize {
		return key, fmt.Errorf("key is %d bytes, want %d", len(b), KeySize)
	}
	copy(key[:], b)
	return key, nil
}

// sharedSecret computes the X25519 shared secret with a peer.
func sharedSecret(private, peerPublic [KeySize]byte) ([]byte, error) {
	secret, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	return secret, nil
}

func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
