// Package admin exposes the process's observability surface: a
// chi-routed HTTP server bound to a separate address from the RTR
// port, serving health, status, Prometheus metrics, and a live delta
// event feed over a websocket (SPEC_FULL.md §4.6, new/ambient).
package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rpkivp/rtrd/internal/rtr"
	"github.com/rpkivp/rtrd/internal/vrp"
)

// StatusProvider supplies the live facts /status reports, decoupling
// this package from the driver and RTR server's concrete types.
type StatusProvider interface {
	Ready() bool
}

// Server is the admin HTTP surface.
type Server struct {
	Log    zerolog.Logger
	Store  *vrp.Store
	RTR    *rtr.Server
	Status StatusProvider
	Addr   string

	upgrader websocket.Upgrader
	sinksMu  sync.Mutex
	sinks    map[*websocket.Conn]struct{}
}

// NewServer returns an admin Server ready to be served via
// http.ListenAndServe(s.Addr, s.Router()).
func NewServer(log zerolog.Logger, store *vrp.Store, rtrSrv *rtr.Server, status StatusProvider, addr string) *Server {
	return &Server{
		Log:    log,
		Store:  store,
		RTR:    rtrSrv,
		Status: status,
		Addr:   addr,
		sinks:  make(map[*websocket.Conn]struct{}),
	}
}

// Router builds the chi mux for the admin surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/ws", s.handleWebsocket)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.Status.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type statusResponse struct {
	Ready            bool   `json:"ready"`
	CurrentSerial    uint32 `json:"current_serial"`
	HasSnapshot      bool   `json:"has_snapshot"`
	ConnectedRouters int    `json:"connected_routers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Ready:         s.Status.Ready(),
		CurrentSerial: s.Store.CurrentSerial(),
		HasSnapshot:   s.Store.HasSnapshot(),
	}
	if s.RTR != nil {
		resp.ConnectedRouters = s.RTR.ConnectionCount()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w, true)
}

// handleWebsocket upgrades the connection and registers it as a sink
// for Broadcast. It blocks reading (and discarding) client frames so
// the connection's close is detected promptly.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.sinksMu.Lock()
	s.sinks[conn] = struct{}{}
	s.sinksMu.Unlock()

	defer func() {
		s.sinksMu.Lock()
		delete(s.sinks, conn)
		s.sinksMu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// deltaEvent is the JSON shape pushed to every connected websocket
// sink on each successful install.
type deltaEvent struct {
	Serial    uint32    `json:"serial"`
	Installed time.Time `json:"installed_at"`
	VRPCount  int       `json:"vrp_count"`
}

// Broadcast pushes a delta-installed event to every live websocket
// sink. Best-effort: a slow or dead sink is dropped rather than
// blocking the broadcaster.
func (s *Server) Broadcast(serial uint32, vrpCount int) {
	ev := deltaEvent{Serial: serial, Installed: time.Now(), VRPCount: vrpCount}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	for conn := range s.sinks {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(s.sinks, conn)
			conn.Close()
		}
	}
}
