package transport

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/flynn/noise"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrAuthentication indicates a payload that failed AEAD verification.
	ErrAuthentication = errors.New("packet authentication failed")
	// ErrReplay indicates a nonce that was already accepted or is too old,
	// or a packet from a session the peer has since replaced.
	ErrReplay = errors.New("replayed packet")
)

const (
	keyDerivationInfo = "toxcall v2 call packet keys"
	replayWindowSize  = 64

	// SessionSaltSize is the length of the per-process session salt that
	// prefixes every sealed payload.
	SessionSaltSize = 16

	// retiredSessionLimit bounds how many replaced peer sessions are
	// remembered for replay rejection.
	retiredSessionLimit = 8
)

// SessionSalt identifies one process lifetime of a sender. It is mixed
// into the sender's keys, so a restarted node never reuses a key with a
// nonce it has already sent.
type SessionSalt [SessionSaltSize]byte

// NewSessionSalt returns a random session salt.
func NewSessionSalt() (SessionSalt, error) {
	var s SessionSalt
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return s, fmt.Errorf("generate session salt: %w", err)
	}
	return s, nil
}

// recvSession is the peer's current sending session as seen locally.
type recvSession struct {
	salt   SessionSalt
	cipher noise.Cipher
	window replayWindow
}

// peerCipher seals and opens the packets exchanged with one peer.
//
// The key for each direction is derived from the static DH secret and the
// sender's session salt. A packet carrying a salt this side has not seen
// is opened under a freshly derived key with an empty replay window; once
// it authenticates, that session replaces the previous one. Packets from
// replaced sessions are rejected as replays.
type peerCipher struct {
	secret       []byte
	pairSalt     []byte
	remotePublic [KeySize]byte

	sendSalt SessionSalt
	send     noise.Cipher

	mu        sync.Mutex
	sendNonce uint64
	recv      *recvSession
	retired   []SessionSalt
}

func newPeerCipher(local *KeyPair, remotePublic [KeySize]byte, session SessionSalt) (*peerCipher, error) {
	secret, err := sharedSecret(local.Private, remotePublic)
	if err != nil {
		return nil, err
	}

	// Salt binds the keys to both identities in a fixed order.
	lo, hi := local.Public[:], remotePublic[:]
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}

	pc := &peerCipher{
		secret:       secret,
		pairSalt:     append(append([]byte{}, lo...), hi...),
		remotePublic: remotePublic,
		sendSalt:     session,
	}
	pc.send, err = pc.deriveCipher(local.Public, session)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// deriveCipher derives the key for packets sent by sender in session.
// The sender's public key keeps the two directions apart.
func (c *peerCipher) deriveCipher(sender [KeySize]byte, session SessionSalt) (noise.Cipher, error) {
	info := make([]byte, 0, len(keyDerivationInfo)+KeySize+SessionSaltSize)
	info = append(info, keyDerivationInfo...)
	info = append(info, sender[:]...)
	info = append(info, session[:]...)

	var key [KeySize]byte
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.secret, c.pairSalt, info), key[:]); err != nil {
		return nil, fmt.Errorf("derive packet key: %w", err)
	}
	return noise.CipherChaChaPoly.Cipher(key), nil
}

// seal encrypts a payload and returns it with the nonce used. The sealed
// data is [SESSION SALT(16)][CIPHERTEXT]; the packet type and salt are
// authenticated as associated data.
func (c *peerCipher) seal(packetType PacketType, plaintext []byte) *Packet {
	c.mu.Lock()
	c.sendNonce++
	nonce := c.sendNonce
	c.mu.Unlock()

	ad := associatedData(packetType, c.sendSalt)
	data := make([]byte, SessionSaltSize, SessionSaltSize+len(plaintext)+16)
	copy(data, c.sendSalt[:])

	return &Packet{
		PacketType: packetType,
		Nonce:      nonce,
		Data:       c.send.Encrypt(data, nonce, ad, plaintext),
	}
}

// open verifies and decrypts a packet. Replay state is only updated for
// packets that authenticate.
func (c *peerCipher) open(packet *Packet) ([]byte, error) {
	if len(packet.Data) < SessionSaltSize {
		return nil, fmt.Errorf("%w: sealed payload of %d bytes", ErrPacketTooShort, len(packet.Data))
	}
	var salt SessionSalt
	copy(salt[:], packet.Data[:SessionSaltSize])
	ciphertext := packet.Data[SessionSaltSize:]
	ad := associatedData(packet.PacketType, salt)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recv != nil && c.recv.salt == salt {
		if !c.recv.window.check(packet.Nonce) {
			return nil, fmt.Errorf("%w: nonce %d", ErrReplay, packet.Nonce)
		}
		plaintext, err := c.recv.cipher.Decrypt(nil, packet.Nonce, ad, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		c.recv.window.accept(packet.Nonce)
		return plaintext, nil
	}

	if c.isRetired(salt) {
		return nil, fmt.Errorf("%w: session was replaced", ErrReplay)
	}

	next := &recvSession{salt: salt}
	if !next.window.check(packet.Nonce) {
		return nil, fmt.Errorf("%w: nonce %d", ErrReplay, packet.Nonce)
	}
	cipher, err := c.deriveCipher(c.remotePublic, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := cipher.Decrypt(nil, packet.Nonce, ad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	next.cipher = cipher
	next.window.accept(packet.Nonce)

	if c.recv != nil {
		c.retire(c.recv.salt)
	}
	c.recv = next
	return plaintext, nil
}

// remoteSession returns the salt of the peer session currently accepted.
func (c *peerCipher) remoteSession() (SessionSalt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recv == nil {
		return SessionSalt{}, false
	}
	return c.recv.salt, true
}

func (c *peerCipher) isRetired(salt SessionSalt) bool {
	for _, s := range c.retired {
		if s == salt {
			return true
		}
	}
	return false
}

func (c *peerCipher) retire(salt SessionSalt) {
	if len(c.retired) == retiredSessionLimit {
		c.retired = append(c.retired[:0], c.retired[1:]...)
	}
	c.retired = append(c.retired, salt)
}

func associatedData(packetType PacketType, salt SessionSalt) []byte {
	ad := make([]byte, 0, 1+SessionSaltSize)
	ad = append(ad, byte(packetType))
	return append(ad, salt[:]...)
}

// replayWindow tracks the highest accepted nonce and a bitmap of the
// replayWindowSize nonces below it.
type replayWindow struct {
	highest uint64
	bitmap  uint64
}

// check reports whether the nonce is new and inside the window.
func (w *replayWindow) check(nonce uint64) bool {
	if nonce == 0 {
		return false
	}
	if nonce > w.highest {
		return true
	}
	diff := w.highest - nonce
	if diff >= replayWindowSize {
		return false
	}
	return w.bitmap&(1<<diff) == 0
}

// accept records a nonce that passed check and authentication.
func (w *replayWindow) accept(nonce uint64) {
	if nonce > w.highest {
		shift := nonce - w.highest
		if shift >= replayWindowSize {
			w.bitmap = 0
		} else {
			w.bitmap <<= shift
		}
		w.bitmap |= 1
		w.highest = nonce
		return
	}
	w.bitmap |= 1 << (w.highest - nonce)
}
