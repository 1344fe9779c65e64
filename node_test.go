package toxcall

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/av/device"
	"github.com/opd-ai/toxcall/config"
	"github.com/opd-ai/toxcall/transport"
)

func testConfig(httpAddr string) *config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HTTPAddr = httpAddr
	cfg.Input = "tone:440"
	cfg.Output = "null"
	cfg.Audio = av.AudioConfig{
		SampleRate:    8000,
		Channels:      1,
		FrameDuration: 10 * time.Millisecond,
		BufferFrames:  4,
		PaceInterval:  time.Millisecond,
	}
	return cfg
}

type eventLog struct {
	mu     sync.Mutex
	events []av.Event
}

func (l *eventLog) add(ev av.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) has(t av.EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func peerOf(t *testing.T, n *Node, friendNumber uint32) transport.Peer {
	t.Helper()
	addr, ok := n.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return transport.Peer{FriendNumber: friendNumber, Addr: addr, PublicKey: n.PublicKey()}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := testConfig("")
	cfg.Input = "bogus"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNodeCallOverLoopback(t *testing.T) {
	var calleeEvents eventLog
	calleeSpeaker := &device.NullSpeaker{}

	caller, err := New(testConfig("127.0.0.1:0"))
	require.NoError(t, err)
	defer caller.Close()

	callee, err := New(testConfig(""), WithSpeaker(calleeSpeaker), WithEventCallback(calleeEvents.add))
	require.NoError(t, err)
	defer callee.Close()

	require.NoError(t, caller.Start())
	require.NoError(t, callee.Start())
	assert.Nil(t, callee.HTTPAddr())
	require.NotNil(t, caller.HTTPAddr())

	require.NoError(t, caller.AddPeer(peerOf(t, callee, 1)))
	require.NoError(t, callee.AddPeer(peerOf(t, caller, 7)))

	require.NoError(t, caller.Manager().PlaceCall(1))

	active := func(n *Node, peer uint32) func() bool {
		return func() bool {
			info, ok := n.Manager().Session(peer)
			return ok && info.AcceptingAudio()
		}
	}
	require.Eventually(t, active(caller, 1), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, active(callee, 7), 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return calleeSpeaker.Samples() > 0 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + caller.HTTPAddr().String() + "/calls")
	require.NoError(t, err)
	var sessions []av.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	resp.Body.Close()
	require.Len(t, sessions, 1)
	assert.Equal(t, uint32(1), sessions[0].PeerID)

	require.NoError(t, caller.Close())
	assert.Eventually(t, func() bool { return !callee.Manager().HasSession(7) }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, calleeEvents.has(av.EventSessionStarted))
	assert.True(t, calleeEvents.has(av.EventSessionEnded))
	assert.Equal(t, 0, callee.ActiveCalls())

	assert.NoError(t, caller.Close(), "second close is a no-op")
}

func TestNodeAddPeerRejectsDuplicate(t *testing.T) {
	n, err := New(testConfig(""))
	require.NoError(t, err)
	defer n.Close()

	other, err := transport.GenerateKeyPair()
	require.NoError(t, err)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

	require.NoError(t, n.AddPeer(transport.Peer{FriendNumber: 2, Addr: addr, PublicKey: other.Public}))
	assert.Error(t, n.AddPeer(transport.Peer{FriendNumber: 2, Addr: addr, PublicKey: other.Public}))
}
