package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/transport"
)

// fakeCalls records calls and returns canned errors.
type fakeCalls struct {
	mu          sync.Mutex
	sessions    map[uint32]av.SessionInfo
	err         error
	operational bool
	calls       []string
	hangUps     []bool
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{sessions: make(map[uint32]av.SessionInfo), operational: true}
}

func (f *fakeCalls) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeCalls) PlaceCall(peerID uint32) error {
	if err := f.record("PlaceCall"); err != nil {
		return err
	}
	f.mu.Lock()
	f.sessions[peerID] = av.SessionInfo{PeerID: peerID, Direction: av.DirectionOutgoing, AudioEnabled: true, Phase: av.PhasePending}
	f.mu.Unlock()
	return nil
}

func (f *fakeCalls) Answer(peerID uint32) error {
	if err := f.record("Answer"); err != nil {
		return err
	}
	f.mu.Lock()
	s := f.sessions[peerID]
	s.Phase = av.PhaseActive
	f.sessions[peerID] = s
	f.mu.Unlock()
	return nil
}

func (f *fakeCalls) HangUp(peerID uint32, byRemote bool) error {
	if err := f.record("HangUp"); err != nil {
		return err
	}
	f.mu.Lock()
	f.hangUps = append(f.hangUps, byRemote)
	delete(f.sessions, peerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeCalls) ToggleCall(peerID uint32) (bool, error) {
	if err := f.record("ToggleCall"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[peerID]; ok {
		delete(f.sessions, peerID)
		return false, nil
	}
	f.sessions[peerID] = av.SessionInfo{PeerID: peerID}
	return true, nil
}

func (f *fakeCalls) Session(peerID uint32) (av.SessionInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[peerID]
	return s, ok
}

func (f *fakeCalls) Sessions() []av.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []av.SessionInfo
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeCalls) IsCapturing() bool { return false }

func (f *fakeCalls) IsOperational() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.operational
}

func newTestServer(t *testing.T, calls CallService) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	srv := httptest.NewServer(NewServer(calls, hub).Handler())
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return srv, hub
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerCallLifecycle(t *testing.T) {
	calls := newFakeCalls()
	srv, _ := newTestServer(t, calls)

	resp := do(t, http.MethodPost, srv.URL+"/calls/5")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var info av.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, uint32(5), info.PeerID)
	assert.Equal(t, av.PhasePending, info.Phase)

	resp = do(t, http.MethodGet, srv.URL+"/calls")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []av.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 1)

	resp = do(t, http.MethodPost, srv.URL+"/calls/5/answer")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, av.PhaseActive, info.Phase)

	resp = do(t, http.MethodGet, srv.URL+"/calls/5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/calls/5")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/calls/5")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	calls.mu.Lock()
	defer calls.mu.Unlock()
	assert.Equal(t, []string{"PlaceCall", "Answer", "HangUp"}, calls.calls)
	assert.Equal(t, []bool{false}, calls.hangUps)
}

func TestServerEmptyListIsArray(t *testing.T) {
	srv, _ := newTestServer(t, newFakeCalls())

	resp := do(t, http.MethodGet, srv.URL+"/calls")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))
}

func TestServerToggle(t *testing.T) {
	srv, _ := newTestServer(t, newFakeCalls())

	var out toggleResponse
	resp := do(t, http.MethodPost, srv.URL+"/calls/3/toggle")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, toggleResponse{PeerID: 3, InCall: true}, out)

	resp = do(t, http.MethodPost, srv.URL+"/calls/3/toggle")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.InCall)
}

func TestServerErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already active", av.ErrCallAlreadyActive, http.StatusConflict},
		{"no session", av.ErrNoSession, http.StatusNotFound},
		{"shutdown", av.ErrManagerShutdown, http.StatusServiceUnavailable},
		{"unknown peer", fmt.Errorf("request call to peer 1: %w", transport.ErrUnknownPeer), http.StatusNotFound},
		{"transport", errors.New("send failed"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := newFakeCalls()
			calls.err = tt.err
			srv, _ := newTestServer(t, calls)

			resp := do(t, http.MethodPost, srv.URL+"/calls/1")
			assert.Equal(t, tt.want, resp.StatusCode)
			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestServerBadPeer(t *testing.T) {
	calls := newFakeCalls()
	srv, _ := newTestServer(t, calls)

	for _, path := range []string{"/calls/abc", "/calls/-1", "/calls/4294967296"} {
		resp := do(t, http.MethodPost, srv.URL+path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
	assert.Empty(t, calls.calls)
}

func TestServerHealth(t *testing.T) {
	calls := newFakeCalls()
	srv, _ := newTestServer(t, calls)

	resp := do(t, http.MethodGet, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)

	calls.mu.Lock()
	calls.operational = false
	calls.mu.Unlock()

	resp = do(t, http.MethodGet, srv.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "shutdown", health.Status)
}

func TestServerEvents(t *testing.T) {
	srv, hub := newTestServer(t, newFakeCalls())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(av.Event{Type: av.EventSessionStarted, PeerID: 9, Phase: av.PhasePending})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev av.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, av.EventSessionStarted, ev.Type)
	assert.Equal(t, uint32(9), ev.PeerID)
	assert.Equal(t, av.PhasePending, ev.Phase)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
