package toxcall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/av/device"
	"github.com/opd-ai/toxcall/config"
	"github.com/opd-ai/toxcall/control"
	"github.com/opd-ai/toxcall/transport"
)

// shutdownTimeout bounds the graceful stop of the control server.
const shutdownTimeout = 5 * time.Second

// Node is one runnable call endpoint: identity, UDP transport, call
// manager, devices and the optional control API.
type Node struct {
	cfg       *config.Config
	keys      *transport.KeyPair
	directory *transport.Directory
	udp       *transport.UDPTransport
	calls     *transport.CallTransport
	manager   *av.Manager
	hub       *control.Hub

	mic      av.Microphone
	speaker  av.Speaker
	onEvent  func(av.Event)
	http     *http.Server
	httpAddr net.Addr

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Node.
type Option func(*Node)

// WithMicrophone overrides the microphone selected by the configuration.
func WithMicrophone(mic av.Microphone) Option {
	return func(n *Node) { n.mic = mic }
}

// WithSpeaker overrides the speaker selected by the configuration.
func WithSpeaker(speaker av.Speaker) Option {
	return func(n *Node) { n.speaker = speaker }
}

// WithEventCallback receives every manager event in addition to the
// websocket clients.
func WithEventCallback(fn func(av.Event)) Option {
	return func(n *Node) { n.onEvent = fn }
}

// New builds a node from a validated configuration. The UDP socket is
// bound immediately; the control API starts with Start.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n := &Node{cfg: cfg, hub: control.NewHub()}
	for _, opt := range opts {
		opt(n)
	}

	if err := n.resolveDevices(); err != nil {
		return nil, err
	}

	keys, err := cfg.KeyPair()
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	n.keys = keys

	peers, err := cfg.PeerList()
	if err != nil {
		return nil, fmt.Errorf("parse peers: %w", err)
	}
	directory, err := transport.NewDirectory(peers...)
	if err != nil {
		return nil, fmt.Errorf("build peer directory: %w", err)
	}
	n.directory = directory

	udp, err := transport.NewUDPTransport(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	n.udp = udp

	calls, err := transport.NewCallTransport(udp, keys, directory)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("create call transport: %w", err)
	}
	n.calls = calls

	policy := av.NeverAnswer
	if cfg.AutoAnswer {
		policy = av.AlwaysAnswer
	}
	manager, err := av.NewManager(calls, n.mic, n.speaker,
		av.WithAudioConfig(cfg.Audio),
		av.WithBitRates(cfg.AudioBitRate, cfg.VideoBitRate),
		av.WithAnswerPolicy(policy),
		av.WithEventCallback(n.dispatchEvent),
	)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("create call manager: %w", err)
	}
	n.manager = manager
	calls.SetHandler(manager)

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"public_key": fmt.Sprintf("%x", keys.Public),
		"listen":     udp.LocalAddr().String(),
		"peers":      len(peers),
		"input":      cfg.Input,
		"output":     cfg.Output,
	}).Info("Node created")

	return n, nil
}

func (n *Node) resolveDevices() error {
	if n.mic == nil {
		mic, err := device.ParseMicrophone(n.cfg.Input)
		if err != nil {
			return fmt.Errorf("input device: %w", err)
		}
		n.mic = mic
	}
	if n.speaker == nil {
		speaker, err := device.ParseSpeaker(n.cfg.Output)
		if err != nil {
			return fmt.Errorf("output device: %w", err)
		}
		n.speaker = speaker
	}
	return nil
}

func (n *Node) dispatchEvent(ev av.Event) {
	n.hub.Broadcast(ev)
	if n.onEvent != nil {
		n.onEvent(ev)
	}
}

// Start runs the event hub and, when an HTTP address is configured, the
// control API. Calling it again has no effect.
func (n *Node) Start() error {
	var err error
	n.startOnce.Do(func() {
		go n.hub.Run()

		if n.cfg.HTTPAddr == "" {
			return
		}
		var ln net.Listener
		ln, err = net.Listen("tcp", n.cfg.HTTPAddr)
		if err != nil {
			err = fmt.Errorf("listen on %s: %w", n.cfg.HTTPAddr, err)
			return
		}
		n.httpAddr = ln.Addr()
		n.http = &http.Server{
			Handler:           control.NewServer(n.manager, n.hub).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go n.serve(ln)
	})
	return err
}

func (n *Node) serve(ln net.Listener) {
	logrus.WithFields(logrus.Fields{
		"function": "Node.serve",
		"addr":     ln.Addr().String(),
	}).Info("Control API listening")

	if err := n.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "Node.serve",
			"error":    err.Error(),
		}).Error("Control API stopped")
	}
}

// Close shuts the manager down, hanging up every call, then stops the
// control API and the transport. It is safe to call more than once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.manager.Shutdown()

		var errs []error
		if n.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := n.http.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop control API: %w", err))
			}
			cancel()
		}
		n.hub.Stop()
		if err := n.udp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		n.closeErr = errors.Join(errs...)

		logrus.WithFields(logrus.Fields{
			"function": "Node.Close",
		}).Info("Node closed")
	})
	return n.closeErr
}

// AddPeer adds a friend to the directory at runtime.
func (n *Node) AddPeer(p transport.Peer) error {
	if err := n.directory.Add(p); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function":      "Node.AddPeer",
		"friend_number": p.FriendNumber,
		"addr":          p.Addr.String(),
	}).Info("Peer added")
	return nil
}

// Manager returns the call manager.
func (n *Node) Manager() *av.Manager { return n.manager }

// PublicKey returns the node's Curve25519 public key.
func (n *Node) PublicKey() [transport.KeySize]byte { return n.keys.Public }

// LocalAddr returns the bound UDP address.
func (n *Node) LocalAddr() net.Addr { return n.udp.LocalAddr() }

// HTTPAddr returns the control API address, or nil before Start or when
// the API is disabled.
func (n *Node) HTTPAddr() net.Addr { return n.httpAddr }

// ActiveCalls returns the number of calls the transport is tracking.
func (n *Node) ActiveCalls() int { return n.calls.ActiveCalls() }
