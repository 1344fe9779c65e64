package transport

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/av/audio"
	"github.com/opd-ai/toxcall/av/rtp"
	"github.com/sirupsen/logrus"
)

// ErrUnknownCall indicates an operation or packet for a call that does not
// exist, or a packet carrying another call's id.
var ErrUnknownCall = errors.New("unknown call")

// CallHandler receives the call events decoded from inbound packets.
// *av.Manager satisfies it.
type CallHandler interface {
	OnIncomingCall(peerID uint32, audio, video bool)
	OnCallStateChanged(peerID uint32, flags av.StateFlags)
	ReceiveAudioFrame(peerID uint32, pcm []int16, channels, rate int) error
}

// callState is the transport's view of one call with a peer.
type callState struct {
	callID       uint32
	incoming     bool
	answered     bool
	audioBitRate uint32
	videoBitRate uint32

	packetizer   *rtp.AudioPacketizer
	depacketizer *rtp.AudioDepacketizer
	decoder      *audio.OpusDecoder
}

// CallTransport carries call signaling and audio between friends over an
// encrypted datagram transport. It implements av.Transport.
//
// Handler callbacks are made without any internal lock held, so the
// handler may call back into the transport.
type CallTransport struct {
	udp       Transport
	keys      *KeyPair
	directory *Directory
	session   SessionSalt
	now       func() time.Time

	mu      sync.Mutex
	ciphers map[uint32]*peerCipher
	calls   map[uint32]*callState

	handlerMu sync.RWMutex
	handler   CallHandler
}

var _ av.Transport = (*CallTransport)(nil)

// NewCallTransport registers the call packet handlers on udp.
func NewCallTransport(udp Transport, keys *KeyPair, directory *Directory) (*CallTransport, error) {
	if udp == nil || keys == nil || directory == nil {
		return nil, errors.New("call transport requires a datagram transport, keys and a directory")
	}

	session, err := NewSessionSalt()
	if err != nil {
		return nil, err
	}

	t := &CallTransport{
		udp:       udp,
		keys:      keys,
		directory: directory,
		session:   session,
		now:       time.Now,
		ciphers:   make(map[uint32]*peerCipher),
		calls:     make(map[uint32]*callState),
	}

	for _, pt := range []PacketType{PacketCallRequest, PacketCallResponse, PacketCallControl, PacketCallState, PacketAudioFrame} {
		udp.RegisterHandler(pt, t.handlePacket)
	}

	return t, nil
}

// SetHandler installs the receiver of inbound call events. Packets that
// arrive while no handler is set are dropped.
func (t *CallTransport) SetHandler(h CallHandler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

func (t *CallTransport) currentHandler() CallHandler {
	t.handlerMu.RLock()
	defer t.handlerMu.RUnlock()
	return t.handler
}

// ActiveCalls returns the number of calls the transport is tracking.
func (t *CallTransport) ActiveCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Call sends a call request to the friend.
func (t *CallTransport) Call(peerID, audioBitRate, videoBitRate uint32) error {
	peer, err := t.directory.Lookup(peerID)
	if err != nil {
		return err
	}

	st, err := newCallState(randomCallID(), false, audioBitRate, videoBitRate)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.calls[peerID] = st
	t.mu.Unlock()

	payload, _ := SerializeCallRequest(&CallRequestPacket{
		CallID:       st.callID,
		AudioBitRate: audioBitRate,
		VideoBitRate: videoBitRate,
		Timestamp:    t.now(),
	})
	if err := t.send(peer, PacketCallRequest, payload); err != nil {
		t.dropCall(peerID, st.callID)
		return fmt.Errorf("send call request: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "CallTransport.Call",
		"peer_id":       peerID,
		"call_id":       st.callID,
		"audio_bitrate": audioBitRate,
		"video_bitrate": videoBitRate,
	}).Info("Sent call request")
	return nil
}

// Answer accepts the friend's pending incoming call.
func (t *CallTransport) Answer(peerID, audioBitRate, videoBitRate uint32) error {
	peer, err := t.directory.Lookup(peerID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	st, exists := t.calls[peerID]
	if !exists || !st.incoming {
		t.mu.Unlock()
		return fmt.Errorf("%w: no incoming call from peer %d", ErrUnknownCall, peerID)
	}
	st.answered = true
	st.audioBitRate = audioBitRate
	st.videoBitRate = videoBitRate
	callID := st.callID
	t.mu.Unlock()

	payload, _ := SerializeCallResponse(&CallResponsePacket{
		CallID:       callID,
		Accepted:     true,
		AudioBitRate: audioBitRate,
		VideoBitRate: videoBitRate,
		Timestamp:    t.now(),
	})
	if err := t.send(peer, PacketCallResponse, payload); err != nil {
		return fmt.Errorf("send call response: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CallTransport.Answer",
		"peer_id":  peerID,
		"call_id":  callID,
	}).Info("Answered call")
	return nil
}

// CallControl sends a control action for the call with the friend. Cancel
// forgets the call locally even when the packet cannot be sent.
func (t *CallTransport) CallControl(peerID uint32, control av.CallControl) error {
	t.mu.Lock()
	st, exists := t.calls[peerID]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: no call with peer %d", ErrUnknownCall, peerID)
	}
	callID := st.callID
	if control == av.CallControlCancel {
		delete(t.calls, peerID)
	}
	t.mu.Unlock()

	peer, err := t.directory.Lookup(peerID)
	if err != nil {
		return err
	}

	payload, _ := SerializeCallControl(&CallControlPacket{
		CallID:      callID,
		ControlType: control,
		Timestamp:   t.now(),
	})
	if err := t.send(peer, PacketCallControl, payload); err != nil {
		return fmt.Errorf("send call control %s: %w", control, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CallTransport.CallControl",
		"peer_id":  peerID,
		"call_id":  callID,
		"control":  control.String(),
	}).Info("Sent call control")
	return nil
}

// SendAudioFrame sends one PCM frame as an L16 RTP packet.
func (t *CallTransport) SendAudioFrame(peerID uint32, pcm []int16, sampleCount int, channels uint8, rate uint32) error {
	peer, err := t.directory.Lookup(peerID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	st, exists := t.calls[peerID]
	answered := exists && st.answered
	t.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: no call with peer %d", ErrUnknownCall, peerID)
	}
	if !answered {
		return fmt.Errorf("call with peer %d not answered yet", peerID)
	}

	packet, err := st.packetizer.Packetize(audio.EncodeL16(pcm), uint32(sampleCount), rtp.AudioFormat{
		Channels: channels,
		Rate:     rate,
	})
	if err != nil {
		return err
	}

	payload, err := SerializeAudioFrame(&AudioFramePacket{CallID: st.callID, RTP: packet})
	if err != nil {
		return err
	}
	return t.send(peer, PacketAudioFrame, payload)
}

// handlePacket opens an inbound packet and dispatches it by type.
func (t *CallTransport) handlePacket(packet *Packet, addr net.Addr) error {
	peer, err := t.directory.LookupAddr(addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CallTransport.handlePacket",
			"addr":     addr.String(),
		}).Warn("Dropping packet from unknown address")
		return err
	}

	cipher, err := t.cipherFor(peer)
	if err != nil {
		return err
	}
	previous, hadSession := cipher.remoteSession()
	payload, err := cipher.open(packet)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "CallTransport.handlePacket",
			"peer_id":     peer.FriendNumber,
			"packet_type": packet.PacketType.String(),
			"error":       err.Error(),
		}).Warn("Dropping unauthenticated packet")
		return err
	}

	handler := t.currentHandler()
	if handler == nil {
		return errors.New("no call handler installed")
	}

	if current, _ := cipher.remoteSession(); hadSession && current != previous {
		t.peerRestarted(handler, peer)
	}

	switch packet.PacketType {
	case PacketCallRequest:
		return t.handleCallRequest(handler, peer, payload)
	case PacketCallResponse:
		return t.handleCallResponse(handler, peer, payload)
	case PacketCallControl:
		return t.handleCallControl(handler, peer, payload)
	case PacketCallState:
		return t.handleCallState(handler, peer, payload)
	case PacketAudioFrame:
		return t.handleAudioFrame(handler, peer, payload)
	default:
		return fmt.Errorf("unexpected packet type %s", packet.PacketType)
	}
}

func (t *CallTransport) handleCallRequest(handler CallHandler, peer Peer, payload []byte) error {
	req, err := DeserializeCallRequest(payload)
	if err != nil {
		return err
	}

	st, err := newCallState(req.CallID, true, req.AudioBitRate, req.VideoBitRate)
	if err != nil {
		return err
	}

	// A request replaces any call already tracked with the peer.
	t.mu.Lock()
	t.calls[peer.FriendNumber] = st
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":      "CallTransport.handleCallRequest",
		"peer_id":       peer.FriendNumber,
		"call_id":       req.CallID,
		"audio_bitrate": req.AudioBitRate,
		"video_bitrate": req.VideoBitRate,
	}).Info("Received call request")

	handler.OnIncomingCall(peer.FriendNumber, req.AudioBitRate > 0, req.VideoBitRate > 0)
	return nil
}

func (t *CallTransport) handleCallResponse(handler CallHandler, peer Peer, payload []byte) error {
	resp, err := DeserializeCallResponse(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	st, exists := t.calls[peer.FriendNumber]
	if !exists || st.callID != resp.CallID || st.incoming {
		t.mu.Unlock()
		return fmt.Errorf("%w: response for call %d from peer %d", ErrUnknownCall, resp.CallID, peer.FriendNumber)
	}
	if !resp.Accepted {
		delete(t.calls, peer.FriendNumber)
		t.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "CallTransport.handleCallResponse",
			"peer_id":  peer.FriendNumber,
			"call_id":  resp.CallID,
		}).Info("Call rejected")
		handler.OnCallStateChanged(peer.FriendNumber, av.FlagFinished)
		return nil
	}
	st.answered = true
	local := localFlags(st.audioBitRate, st.videoBitRate)
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "CallTransport.handleCallResponse",
		"peer_id":  peer.FriendNumber,
		"call_id":  resp.CallID,
	}).Info("Call answered")

	handler.OnCallStateChanged(peer.FriendNumber, localFlags(resp.AudioBitRate, resp.VideoBitRate))

	state, _ := SerializeCallState(&CallStatePacket{
		CallID:    resp.CallID,
		Flags:     local,
		Timestamp: t.now(),
	})
	if err := t.send(peer, PacketCallState, state); err != nil {
		return fmt.Errorf("send call state: %w", err)
	}
	return nil
}

func (t *CallTransport) handleCallControl(handler CallHandler, peer Peer, payload []byte) error {
	ctrl, err := DeserializeCallControl(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	st, exists := t.calls[peer.FriendNumber]
	if !exists || st.callID != ctrl.CallID {
		t.mu.Unlock()
		return fmt.Errorf("%w: control for call %d from peer %d", ErrUnknownCall, ctrl.CallID, peer.FriendNumber)
	}
	if ctrl.ControlType == av.CallControlCancel {
		delete(t.calls, peer.FriendNumber)
	}
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "CallTransport.handleCallControl",
		"peer_id":  peer.FriendNumber,
		"call_id":  ctrl.CallID,
		"control":  ctrl.ControlType.String(),
	}).Info("Received call control")

	if ctrl.ControlType == av.CallControlCancel {
		handler.OnCallStateChanged(peer.FriendNumber, av.FlagFinished)
	}
	return nil
}

func (t *CallTransport) handleCallState(handler CallHandler, peer Peer, payload []byte) error {
	state, err := DeserializeCallState(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	st, exists := t.calls[peer.FriendNumber]
	if !exists || st.callID != state.CallID {
		t.mu.Unlock()
		return fmt.Errorf("%w: state for call %d from peer %d", ErrUnknownCall, state.CallID, peer.FriendNumber)
	}
	if state.Flags.Decode().Terminal {
		delete(t.calls, peer.FriendNumber)
	}
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "CallTransport.handleCallState",
		"peer_id":  peer.FriendNumber,
		"call_id":  state.CallID,
		"flags":    state.Flags.String(),
	}).Debug("Received call state")

	handler.OnCallStateChanged(peer.FriendNumber, state.Flags)
	return nil
}

func (t *CallTransport) handleAudioFrame(handler CallHandler, peer Peer, payload []byte) error {
	frame, err := DeserializeAudioFrame(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	st, exists := t.calls[peer.FriendNumber]
	t.mu.Unlock()
	if !exists || st.callID != frame.CallID {
		return fmt.Errorf("%w: audio for call %d from peer %d", ErrUnknownCall, frame.CallID, peer.FriendNumber)
	}

	rtpFrame, err := st.depacketizer.Depacketize(frame.RTP)
	if err != nil {
		return err
	}

	pcm, channels, rate, err := st.decode(rtpFrame)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "CallTransport.handleAudioFrame",
		"peer_id":  peer.FriendNumber,
		"sequence": rtpFrame.SequenceNumber,
		"samples":  len(pcm),
	}).Trace("Received audio frame")

	return handler.ReceiveAudioFrame(peer.FriendNumber, pcm, channels, rate)
}

// decode turns an RTP payload into interleaved PCM.
func (st *callState) decode(frame rtp.Frame) ([]int16, int, int, error) {
	switch frame.PayloadType {
	case rtp.PayloadTypeL16:
		pcm, err := audio.DecodeL16(frame.Payload)
		if err != nil {
			return nil, 0, 0, err
		}
		return pcm, int(frame.Format.Channels), int(frame.Format.Rate), nil
	case rtp.PayloadTypeOpus:
		if st.decoder == nil {
			st.decoder = audio.NewOpusDecoder()
		}
		pcm, channels, rate, err := st.decoder.Decode(frame.Payload)
		if err != nil {
			return nil, 0, 0, err
		}
		return pcm, channels, int(rate), nil
	default:
		return nil, 0, 0, fmt.Errorf("unsupported payload type %d", frame.PayloadType)
	}
}

// send seals a payload for the peer and writes it to the network.
func (t *CallTransport) send(peer Peer, packetType PacketType, payload []byte) error {
	cipher, err := t.cipherFor(peer)
	if err != nil {
		return err
	}
	packet := cipher.seal(packetType, payload)
	if size := packetHeaderSize + len(packet.Data); size > maxPacketSize {
		return fmt.Errorf("%s packet of %d bytes exceeds %d", packetType, size, maxPacketSize)
	}
	return t.udp.Send(packet, peer.Addr)
}

// cipherFor returns the peer's cipher, deriving it on first use.
func (t *CallTransport) cipherFor(peer Peer) (*peerCipher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, exists := t.ciphers[peer.FriendNumber]; exists {
		return c, nil
	}
	c, err := newPeerCipher(t.keys, peer.PublicKey, t.session)
	if err != nil {
		return nil, err
	}
	t.ciphers[peer.FriendNumber] = c
	return c, nil
}

// peerRestarted ends any call with a peer that came back under a new
// session; the peer no longer knows about it.
func (t *CallTransport) peerRestarted(handler CallHandler, peer Peer) {
	t.mu.Lock()
	_, hadCall := t.calls[peer.FriendNumber]
	delete(t.calls, peer.FriendNumber)
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "CallTransport.peerRestarted",
		"peer_id":  peer.FriendNumber,
		"had_call": hadCall,
	}).Info("Peer started a new session")

	if hadCall {
		handler.OnCallStateChanged(peer.FriendNumber, av.FlagFinished)
	}
}

// dropCall forgets the peer's call if it is still the one with callID.
func (t *CallTransport) dropCall(peerID, callID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, exists := t.calls[peerID]; exists && st.callID == callID {
		delete(t.calls, peerID)
	}
}

func newCallState(callID uint32, incoming bool, audioBitRate, videoBitRate uint32) (*callState, error) {
	packetizer, err := rtp.NewAudioPacketizer(rtp.PayloadTypeL16)
	if err != nil {
		return nil, err
	}
	return &callState{
		callID:       callID,
		incoming:     incoming,
		audioBitRate: audioBitRate,
		videoBitRate: videoBitRate,
		packetizer:   packetizer,
		depacketizer: rtp.NewAudioDepacketizer(),
	}, nil
}

// localFlags reports the sending and accepting bits implied by bit rates.
func localFlags(audioBitRate, videoBitRate uint32) av.StateFlags {
	var flags av.StateFlags
	if audioBitRate > 0 {
		flags |= av.FlagSendingAudio | av.FlagAcceptingAudio
	}
	if videoBitRate > 0 {
		flags |= av.FlagSendingVideo | av.FlagAcceptingVideo
	}
	return flags
}

// randomCallID returns a nonzero call id.
func randomCallID() uint32 {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return uint32(time.Now().UnixNano()) | 1
		}
		if id := binary.BigEndian.Uint32(b[:]); id != 0 {
			return id
		}
	}
}
