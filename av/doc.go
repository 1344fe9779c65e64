// Package av implements the call session manager for toxcall.
//
// The manager turns ToxAV-style call signaling into a running, multiplexed
// audio pipeline. It owns per-peer call state, drives one background
// microphone capture loop shared by every call, fans captured frames out to
// each peer that accepts audio, and routes inbound decoded audio to a single
// playback sink.
//
// # Architecture
//
//   - Registry: thread-safe peer id to session map, the only record of who
//     is in a call and with what media
//   - CaptureLoop: goroutine owning the microphone; runs exactly while the
//     registry is non-empty
//   - PlaybackSink: output stream opened with the first inbound frame's
//     format and released when the last call ends
//   - Manager: facade combining the three, plus the inbound event handlers
//     a transport calls into
//
// Devices and the network are injected through the Transport, Microphone
// and Speaker interfaces, so the package itself does no I/O.
//
// # Placing Calls
//
//	mgr, err := av.NewManager(transport, mic, speaker,
//	    av.WithBitRates(32, 0),
//	    av.WithEventCallback(func(e av.Event) {
//	        log.Printf("%s peer=%d", e.Type, e.PeerID)
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Shutdown()
//
//	if err := mgr.PlaceCall(friendNumber); errors.Is(err, av.ErrCallerMisuse) {
//	    // already in a call with this peer
//	}
//
// # Transport Events
//
// A transport reports remote activity through OnIncomingCall and
// OnCallStateChanged. State updates carry the ToxAV bitmask; the manager
// decodes it once:
//
//	mgr.OnCallStateChanged(friendNumber, av.FlagSendingAudio|av.FlagAcceptingAudio)
//
// A terminal update (FlagError or FlagFinished) removes the session. An
// update with FlagAcceptingAudio makes the session active, after which it
// receives captured frames. Inbound audio is passed to ReceiveAudioFrame.
//
// # Incoming Calls
//
// Incoming calls are answered automatically unless an AnswerPolicy declines
// them. A declined call stays pending until Answer or HangUp:
//
//	mgr, _ := av.NewManager(transport, mic, speaker, av.WithAnswerPolicy(av.NeverAnswer))
//	// later, after asking the user
//	mgr.Answer(friendNumber)
//
// # Capture Timing
//
// Each capture iteration reads exactly one frame (rate × channels ×
// duration) and then sleeps the pace interval. The device buffer holds
// several frames of headroom; because the pace interval is shorter than a
// frame, the loop keeps up with the device and steady-state latency stays
// within one frame plus one pace interval. See AudioConfig.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Event callbacks run
// after internal locks are released and may call back into the manager.
//
// # Sub-Packages
//
//   - av/device: microphone and speaker implementations
//   - av/audio: PCM conversion and Opus decoding
//   - av/rtp: RTP packetization of audio frames
package av
