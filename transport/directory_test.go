package transport

import (
	"encoding/hex"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPublicKey(t *testing.T) [KeySize]byte {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	return kp.Public
}

func TestParsePeers(t *testing.T) {
	keyA := testPublicKey(t)
	keyB := testPublicKey(t)
	spec := "1=127.0.0.1:33445=" + hex.EncodeToString(keyA[:]) +
		", ,7=127.0.0.1:33446=" + hex.EncodeToString(keyB[:])

	peers, err := ParsePeers(spec)
	require.NoError(t, err)
	require.Len(t, peers, 2)

	assert.Equal(t, uint32(1), peers[0].FriendNumber)
	assert.Equal(t, "127.0.0.1:33445", peers[0].Addr.String())
	assert.Equal(t, keyA, peers[0].PublicKey)
	assert.Equal(t, uint32(7), peers[1].FriendNumber)
	assert.Equal(t, keyB, peers[1].PublicKey)

	empty, err := ParsePeers("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParsePeerErrors(t *testing.T) {
	key := testPublicKey(t)
	hexKey := hex.EncodeToString(key[:])

	tests := []struct {
		name  string
		entry string
	}{
		{"missing key", "1=127.0.0.1:1"},
		{"bad number", "x=127.0.0.1:1=" + hexKey},
		{"bad address", "1=127.0.0.1=" + hexKey},
		{"short key", "1=127.0.0.1:1=" + strings.Repeat("ab", 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePeer(tt.entry)
			assert.Error(t, err)
		})
	}
}

func TestDirectoryLookups(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	peer := Peer{FriendNumber: 3, Addr: addr, PublicKey: testPublicKey(t)}

	dir, err := NewDirectory(peer)
	require.NoError(t, err)

	got, err := dir.Lookup(3)
	require.NoError(t, err)
	assert.Equal(t, peer, got)

	got, err = dir.LookupAddr(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.FriendNumber)

	_, err = dir.Lookup(4)
	assert.ErrorIs(t, err, ErrUnknownPeer)
	_, err = dir.LookupAddr(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001})
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestDirectoryRejectsDuplicates(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	dir, err := NewDirectory(Peer{FriendNumber: 1, Addr: addr, PublicKey: testPublicKey(t)})
	require.NoError(t, err)

	assert.Error(t, dir.Add(Peer{FriendNumber: 1, Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, PublicKey: testPublicKey(t)}))
	assert.Error(t, dir.Add(Peer{FriendNumber: 2, Addr: addr, PublicKey: testPublicKey(t)}))
	assert.Error(t, dir.Add(Peer{FriendNumber: 3, PublicKey: testPublicKey(t)}))
	assert.Error(t, dir.Add(Peer{FriendNumber: 4, Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2}}))

	require.NoError(t, dir.Add(Peer{FriendNumber: 0, Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 3}, PublicKey: testPublicKey(t)}))
	peers := dir.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, uint32(0), peers[0].FriendNumber)
	assert.Equal(t, uint32(1), peers[1].FriendNumber)
}
