// Package server exposes the operator control API and the status WebSocket
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"perpmm/internal/config"
	"perpmm/internal/core"
	"perpmm/internal/state"
)

var (
	statusActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perpmm_status_ws_connections",
		Help: "Current number of status WebSocket subscribers",
	})

	statusRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpmm_status_ws_rejected_total",
		Help: "Total rejected status WebSocket connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(statusActiveConnections)
	prometheus.MustRegister(statusRejectedTotal)
}

// Controller is the slice of the engine the control API drives
type Controller interface {
	Pause()
	Resume() error
	UpdateConfig(p *config.Patch) (*config.Config, error)
	CloseAll(ctx context.Context) error
	ClearLiquidationGuard()
	Snapshot() *state.Snapshot
	Config() *config.Config
}

// Server is the operator-facing HTTP server: a JSON control API plus a
// WebSocket that pushes state snapshots
type Server struct {
	hub        *Hub
	controller Controller
	logger     core.ILogger

	srv            *http.Server
	upgrader       websocket.Upgrader
	allowedOrigins []string
	mu             sync.Mutex

	connSemaphore chan struct{}
	ipLimiters    sync.Map // map[string]*rate.Limiter
	rateLimit     rate.Limit
	rateBurst     int

	pushInterval time.Duration
}

// NewServer creates a server
func NewServer(controller Controller, allowedOrigins []string, logger core.ILogger) *Server {
	s := &Server{
		hub:            NewHub(logger),
		controller:     controller,
		logger:         logger.WithField("component", "control_server"),
		allowedOrigins: allowedOrigins,
		connSemaphore:  make(chan struct{}, 64),
		rateLimit:      10,
		rateBurst:      20,
		pushInterval:   time.Second,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Start runs the server until ctx is canceled
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/close_all", s.handleCloseAll)
	mux.HandleFunc("/api/guard/clear", s.handleGuardClear)

	s.mu.Lock()
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	go s.hub.Run(ctx)
	go s.pushLoop(ctx)

	s.logger.Info("Control server starting", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// pushLoop broadcasts a state snapshot to all subscribers at a fixed cadence
func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.hub.Broadcast(NewStatusMessage(s.controller.Snapshot()))
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		statusRejectedTotal.WithLabelValues("missing_origin").Inc()
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		statusRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || originStr == allowed {
			return true
		}
	}
	s.logger.Warn("Rejected WebSocket origin", "origin", origin, "remote_addr", r.RemoteAddr)
	statusRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.ipLimiter(s.remoteIP(r)).Allow() {
		statusRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connSemaphore <- struct{}{}:
		statusActiveConnections.Inc()
		defer func() {
			<-s.connSemaphore
			statusActiveConnections.Dec()
		}()
	default:
		statusRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.New().String())
	s.hub.Register(client)

	// Immediate snapshot so the client does not wait for the next push
	client.Send(NewStatusMessage(s.controller.Snapshot()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	s.hub.Unregister(client)
	conn.Close()
}

func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.SendChan():
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		// Server push only; client frames just keep the connection alive
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.controller.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"result": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.controller.Resume(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "running"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.controller.Config())
	case http.MethodPost:
		var patch config.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid patch: " + err.Error()})
			return
		}
		next, err := s.controller.UpdateConfig(&patch)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, next)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.controller.CloseAll(ctx); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "closed"})
}

func (s *Server) handleGuardClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.controller.ClearLiquidationGuard()
	writeJSON(w, http.StatusOK, map[string]string{"result": "cleared"})
}

// BroadcastFill pushes a fill event to all status subscribers
func (s *Server) BroadcastFill(fill *core.FillEvent) {
	s.hub.Broadcast(NewFillMessage(fill))
}

func (s *Server) remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) ipLimiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	actual, _ := s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(s.rateLimit, s.rateBurst))
	return actual.(*rate.Limiter)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
