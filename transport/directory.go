package transport

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownPeer indicates a friend number or address with no directory
// entry.
var ErrUnknownPeer = errors.New("unknown peer")

// Peer is a directory entry: how to reach a friend and how to authenticate
// them.
type Peer struct {
	FriendNumber uint32
	Addr         *net.UDPAddr
	PublicKey    [KeySize]byte
}

// Directory maps friend numbers to peers and back by network address.
type Directory struct {
	mu       sync.RWMutex
	byNumber map[uint32]Peer
	byAddr   map[string]uint32
}

// NewDirectory creates a directory holding the given peers.
func NewDirectory(peers ...Peer) (*Directory, error) {
	d := &Directory{
		byNumber: make(map[uint32]Peer),
		byAddr:   make(map[string]uint32),
	}
	for _, p := range peers {
		if err := d.Add(p); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add inserts a peer. Friend numbers and addresses must be unique.
func (d *Directory) Add(p Peer) error {
	if p.Addr == nil {
		return fmt.Errorf("peer %d has no address", p.FriendNumber)
	}
	if isZeroKey(p.PublicKey) {
		return fmt.Errorf("peer %d has no public key", p.FriendNumber)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byNumber[p.FriendNumber]; exists {
		return fmt.Errorf("duplicate friend number %d", p.FriendNumber)
	}
	key := p.Addr.String()
	if other, exists := d.byAddr[key]; exists {
		return fmt.Errorf("address %s already used by friend %d", key, other)
	}
	d.byNumber[p.FriendNumber] = p
	d.byAddr[key] = p.FriendNumber
	return nil
}

// Lookup returns the peer with the friend number.
func (d *Directory) Lookup(friendNumber uint32) (Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, exists := d.byNumber[friendNumber]
	if !exists {
		return Peer{}, fmt.Errorf("%w: friend %d", ErrUnknownPeer, friendNumber)
	}
	return p, nil
}

// LookupAddr returns the peer reachable at addr.
func (d *Directory) LookupAddr(addr net.Addr) (Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	number, exists := d.byAddr[addr.String()]
	if !exists {
		return Peer{}, fmt.Errorf("%w: address %s", ErrUnknownPeer, addr)
	}
	return d.byNumber[number], nil
}

// Peers returns every entry ordered by friend number.
func (d *Directory) Peers() []Peer {
	d.mu.RLock()
	out := make([]Peer, 0, len(d.byNumber))
	for _, p := range d.byNumber {
		out = append(out, p)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FriendNumber < out[j].FriendNumber })
	return out
}

// ParsePeers parses a comma-separated list of `number=host:port=hexkey`
// entries. Empty entries are skipped.
func ParsePeers(spec string) ([]Peer, error) {
	var peers []Peer
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		p, err := ParsePeer(entry)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// ParsePeer parses one `number=host:port=hexkey` entry.
func ParsePeer(entry string) (Peer, error) {
	parts := strings.Split(entry, "=")
	if len(parts) != 3 {
		return Peer{}, fmt.Errorf("peer %q: want number=host:port=hexkey", entry)
	}

	number, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Peer{}, fmt.Errorf("peer %q: friend number: %w", entry, err)
	}
	addr, err := net.ResolveUDPAddr("udp", parts[1])
	if err != nil {
		return Peer{}, fmt.Errorf("peer %q: address: %w", entry, err)
	}
	key, err := ParseKey(parts[2])
	if err != nil {
		return Peer{}, fmt.Errorf("peer %q: public key: %w", entry, err)
	}

	return Peer{FriendNumber: uint32(number), Addr: addr, PublicKey: key}, nil
}
