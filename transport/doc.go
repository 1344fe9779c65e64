// Package transport carries toxcall signaling and audio between friends
// over UDP.
//
// # Architecture
//
// Two layers are stacked:
//
//	UDPTransport   datagram I/O, one read goroutine, dispatch by packet type
//	CallTransport  per-peer encryption, call state, RTP audio; implements av.Transport
//
// Every datagram is framed as
//
//	[TYPE(1)][NONCE(8)][SEALED PAYLOAD]
//
// and the payload is one of the signaling messages in signaling.go.
//
// # Security
//
// Each node has a static Curve25519 key pair and draws a random session
// salt when its CallTransport is created. The sealed payload is
//
//	[SESSION SALT(16)][CIPHERTEXT]
//
// For every friend in the Directory the X25519 shared secret is expanded
// with HKDF-SHA256, over the sender's public key and session salt, into
// one ChaCha20-Poly1305 key per direction. A restarted node therefore
// sends under a new key even though its nonce counter starts again at 1.
// The receiver keeps a 64-entry replay window per peer session. A new salt
// that authenticates replaces the old session and ends any call the peer
// had; packets from replaced sessions are rejected. Packets from addresses
// not in the directory, or that fail authentication, are dropped.
//
// # Call flow
//
//	caller                          callee
//	  CallRequest  ───────────────▶  OnIncomingCall
//	                                 Answer
//	  OnCallStateChanged ◀─────────  CallResponse (accepted)
//	  CallState    ───────────────▶  OnCallStateChanged
//	  AudioFrame   ◀──────────────▶  AudioFrame
//	  CallControl(cancel) ────────▶  OnCallStateChanged(finished)
//
// Usage:
//
//	udp, err := transport.NewUDPTransport(":33445")
//	calls, err := transport.NewCallTransport(udp, keys, directory)
//	manager, err := av.NewManager(calls, mic, speaker)
//	calls.SetHandler(manager)
//
// Inbound packets are handled on the UDP read goroutine, so audio frames
// reach the handler in arrival order.
package transport
