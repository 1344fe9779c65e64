package transport

import (
	"net"
	"sync"

	"github.com/opd-ai/toxcall/av"
)

// memNetwork delivers packets synchronously between memTransports.
type memNetwork struct {
	mu    sync.Mutex
	nodes map[string]*memTransport
}

func newMemNetwork() *memNetwork {
	return &memNetwork{nodes: make(map[string]*memTransport)}
}

func (n *memNetwork) node(port int) *memTransport {
	t := &memTransport{
		network:  n,
		addr:     &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		handlers: make(map[PacketType]PacketHandler),
	}
	n.mu.Lock()
	n.nodes[t.addr.String()] = t
	n.mu.Unlock()
	return t
}

type memTransport struct {
	network *memNetwork
	addr    *net.UDPAddr

	mu       sync.Mutex
	handlers map[PacketType]PacketHandler
	sent     []*Packet
	errs     []error
	sendErr  error
}

func (t *memTransport) Send(packet *Packet, addr net.Addr) error {
	data, err := packet.Serialize()
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.sendErr != nil {
		t.mu.Unlock()
		return t.sendErr
	}
	t.sent = append(t.sent, packet)
	t.mu.Unlock()

	t.network.mu.Lock()
	dst := t.network.nodes[addr.String()]
	t.network.mu.Unlock()
	if dst == nil {
		return nil
	}

	parsed, err := ParsePacket(data)
	if err != nil {
		return err
	}
	dst.deliver(parsed, t.addr)
	return nil
}

// deliver runs the handler for the packet and records its error.
func (t *memTransport) deliver(packet *Packet, from net.Addr) error {
	t.mu.Lock()
	handler := t.handlers[packet.PacketType]
	t.mu.Unlock()
	if handler == nil {
		return nil
	}
	err := handler(packet, from)
	t.mu.Lock()
	t.errs = append(t.errs, err)
	t.mu.Unlock()
	return err
}

func (t *memTransport) lastSent() *Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

func (t *memTransport) Close() error        { return nil }
func (t *memTransport) LocalAddr() net.Addr { return t.addr }

func (t *memTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	t.handlers[packetType] = handler
	t.mu.Unlock()
}

type incomingRecord struct {
	peerID uint32
	audio  bool
	video  bool
}

type stateRecord struct {
	peerID uint32
	flags  av.StateFlags
}

type frameRecord struct {
	peerID   uint32
	pcm      []int16
	channels int
	rate     int
}

// recordingHandler stands in for the call manager.
type recordingHandler struct {
	mu       sync.Mutex
	incoming []incomingRecord
	states   []stateRecord
	frames   []frameRecord
	frameErr error
}

func (h *recordingHandler) OnIncomingCall(peerID uint32, audio, video bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.incoming = append(h.incoming, incomingRecord{peerID, audio, video})
}

func (h *recordingHandler) OnCallStateChanged(peerID uint32, flags av.StateFlags) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, stateRecord{peerID, flags})
}

func (h *recordingHandler) ReceiveAudioFrame(peerID uint32, pcm []int16, channels, rate int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frameRecord{peerID, append([]int16(nil), pcm...), channels, rate})
	return h.frameErr
}

func (h *recordingHandler) stateList() []stateRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]stateRecord(nil), h.states...)
}

func (h *recordingHandler) frameList() []frameRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]frameRecord(nil), h.frames...)
}

func (h *recordingHandler) incomingList() []incomingRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]incomingRecord(nil), h.incoming...)
}
