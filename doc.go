// Package toxcall assembles a runnable audio call endpoint.
//
// A [Node] wires a [config.Config] into the call stack: the Curve25519
// identity and peer directory, the encrypted UDP call transport, the
// microphone and speaker selected by the configuration, the [av.Manager]
// that owns call sessions, and the optional HTTP control API.
//
//	cfg, err := config.Load(".env")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	node, err := toxcall.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	_ = node.Manager().PlaceCall(1)
//
// Close hangs up every call, sending each peer a cancel, before releasing
// the socket.
package toxcall
