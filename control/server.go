package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxcall/av"
	"github.com/opd-ai/toxcall/transport"
)

// CallService is the part of the call manager the API drives.
// *av.Manager satisfies it.
type CallService interface {
	PlaceCall(peerID uint32) error
	Answer(peerID uint32) error
	HangUp(peerID uint32, byRemote bool) error
	ToggleCall(peerID uint32) (bool, error)
	Session(peerID uint32) (av.SessionInfo, bool)
	Sessions() []av.SessionInfo
	IsCapturing() bool
	IsOperational() bool
}

// Server exposes call control over HTTP and manager events over a
// websocket.
type Server struct {
	calls    CallService
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer creates a server. The hub must be running for /events.
func NewServer(calls CallService, hub *Hub) *Server {
	return &Server{
		calls: calls,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/events", s.events)
	r.Route("/calls", func(r chi.Router) {
		r.Get("/", s.listCalls)
		r.Route("/{peer}", func(r chi.Router) {
			r.Get("/", s.getCall)
			r.Post("/", s.placeCall)
			r.Delete("/", s.hangUp)
			r.Post("/answer", s.answer)
			r.Post("/toggle", s.toggle)
		})
	})
	return r
}

type healthResponse struct {
	Status      string `json:"status"`
	Operational bool   `json:"operational"`
	Capturing   bool   `json:"capturing"`
	Sessions    int    `json:"sessions"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Operational: s.calls.IsOperational(),
		Capturing:   s.calls.IsCapturing(),
		Sessions:    len(s.calls.Sessions()),
	}
	status := http.StatusOK
	if !resp.Operational {
		resp.Status = "shutdown"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	sessions := s.calls.Sessions()
	if sessions == nil {
		sessions = []av.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	info, exists := s.calls.Session(peer)
	if !exists {
		writeError(w, http.StatusNotFound, av.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) placeCall(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	if err := s.calls.PlaceCall(peer); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	info, _ := s.calls.Session(peer)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	if err := s.calls.Answer(peer); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	info, _ := s.calls.Session(peer)
	writeJSON(w, http.StatusOK, info)
}

type toggleResponse struct {
	PeerID uint32 `json:"peer_id"`
	InCall bool   `json:"in_call"`
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	inCall, err := s.calls.ToggleCall(peer)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{PeerID: peer, InCall: inCall})
}

func (s *Server) hangUp(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	if err := s.calls.HangUp(peer, false); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.events",
			"error":    err.Error(),
		}).Warn("Websocket upgrade failed")
		return
	}

	c := newClient(conn)
	if !s.hub.join(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"function":  "Server.events",
					"client_id": c.id,
					"error":     err.Error(),
				}).Debug("Event client closed unexpectedly")
			}
			break
		}
	}
	s.hub.leave(c)
}

// peerParam parses the {peer} friend number, writing 400 on failure.
func peerParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "peer")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("peer must be a friend number"))
		return 0, false
	}
	return uint32(n), true
}

// statusFor maps manager errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, av.ErrManagerShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, av.ErrNoSession), errors.Is(err, transport.ErrUnknownPeer):
		return http.StatusNotFound
	case errors.Is(err, av.ErrCallerMisuse):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err.Error(),
		}).Debug("Response write failed")
	}
}

// requestLogger logs each request through logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logrus.WithFields(logrus.Fields{
				"function":   "requestLogger",
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Debug("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}
