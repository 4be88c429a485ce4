// Package web exposes relay status and control over HTTP, and pushes
// interface and relay updates to websocket clients.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/CERALIVE/obs-srtla-sender-plugin/netmon"
	"github.com/CERALIVE/obs-srtla-sender-plugin/relay"
	"github.com/CERALIVE/obs-srtla-sender-plugin/settings"
)

// Relay is the controller surface the server drives.
type Relay interface {
	Start() error
	Stop()
	RestartWithPort(port uint16) error
	IsRunning() bool
	Handle() relay.Handle
	Settings() settings.Relay
	SetServerHost(host string) relay.Effects
	SetServerPort(port uint16) relay.Effects
	SetStreamID(id string) relay.Effects
	SetLocalPort(port uint16) relay.Effects
	SetUseFixedLocalPort(fixed bool) relay.Effects
	SetLatency(ms int) (relay.Effects, error)
	SetAutoStart(enabled bool) relay.Effects
	SetBidirectionalSync(enabled bool) relay.Effects
	OnStreamingStarting() error
	OnStreamingStopping()
}

// Syncer runs reconciliation with the host.
type Syncer interface {
	Enabled() bool
	SyncFromExternal() bool
	SyncToExternal() bool
}

// Snapshotter returns the last published interface snapshot.
type Snapshotter interface {
	Current() netmon.Snapshot
}

// Status is the payload of GET /api/status and of "status" pushes.
type Status struct {
	Relay      relay.Handle    `json:"relay"`
	Settings   settings.Relay  `json:"settings"`
	URL        string          `json:"url"`
	Interfaces netmon.Snapshot `json:"interfaces"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

func (c *client) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

// Server serves the status API and websocket feed.
type Server struct {
	logger    *zap.Logger
	addr      string
	authToken string
	relay     Relay
	syncer    Syncer
	monitor   Snapshotter

	upgrader     websocket.Upgrader
	decoder      *schema.Decoder
	clients      map[*websocket.Conn]*client
	clientsMutex sync.RWMutex

	httpServer *http.Server
}

// NewServer creates a server listening on addr. An empty authToken
// disables authentication.
func NewServer(logger *zap.Logger, addr, authToken string, r Relay, s Syncer, m Snapshotter) *Server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	srv := &Server{
		logger:    logger.Named("web"),
		addr:      addr,
		authToken: authToken,
		relay:     r,
		syncer:    s,
		monitor:   m,
		upgrader:  websocket.Upgrader{},
		decoder:   decoder,
		clients:   make(map[*websocket.Conn]*client),
	}
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/interfaces", s.handleInterfaces)
		r.Put("/settings", s.handleSettings)
		r.Post("/relay/start", s.handleStart)
		r.Post("/relay/stop", s.handleStop)
		r.Post("/relay/restart", s.handleRestart)
		r.Post("/sync/from-host", s.handleSyncFromHost)
		r.Post("/sync/to-host", s.handleSyncToHost)
		r.Post("/events/{event}", s.handleEvent)
	})
	return r
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("web interface listening", zap.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMutex.Lock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.clientsMutex.Unlock()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.URL.Query().Get("auth")
		if token == "" {
			token = r.Header.Get("X-Auth-Token")
		}
		if token != s.authToken {
			s.logger.Warn("denied request", zap.String("remote", clientIP(r)), zap.String("path", r.URL.Path))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func (s *Server) status() Status {
	st := s.relay.Settings()
	return Status{
		Relay:      s.relay.Handle(),
		Settings:   st,
		URL:        st.URL(),
		Interfaces: s.monitor.Current(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.status())
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.monitor.Current())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.relay.Start(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.BroadcastStatus()
	render.JSON(w, r, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.relay.Stop()
	s.BroadcastStatus()
	render.JSON(w, r, s.status())
}

type restartQuery struct {
	Port uint16 `schema:"port,required"`
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var q restartQuery
	if err := s.decoder.Decode(&q, r.URL.Query()); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}
	if err := s.relay.RestartWithPort(q.Port); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.syncer.Enabled() {
		s.syncer.SyncToExternal()
	}
	s.BroadcastStatus()
	render.JSON(w, r, s.status())
}

// settingsPatch carries the fields to change; absent fields are left alone.
type settingsPatch struct {
	ServerHost        *string `json:"server_host"`
	ServerPort        *uint16 `json:"server_port"`
	StreamID          *string `json:"stream_id"`
	LocalPort         *uint16 `json:"local_port"`
	UseFixedLocalPort *bool   `json:"use_fixed_local_port"`
	LatencyMs         *int    `json:"latency_ms"`
	AutoStart         *bool   `json:"auto_start"`
	BidirectionalSync *bool   `json:"bidirectional_sync"`
}

type settingsResponse struct {
	Settings settings.Relay           `json:"settings"`
	Effects  map[string]relay.Effects `json:"effects"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if err := render.DecodeJSON(r.Body, &patch); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "invalid settings: " + err.Error()})
		return
	}

	// Latency is validated first so a bad request changes nothing.
	if patch.LatencyMs != nil && !settings.ValidLatency(*patch.LatencyMs) {
		s.writeError(w, r, relay.ErrLatencyOutOfRange)
		return
	}

	effects := make(map[string]relay.Effects)
	// Sync is applied first so enabling it pins the port before the other
	// fields publish the URL.
	if patch.BidirectionalSync != nil {
		effects["bidirectional_sync"] = s.relay.SetBidirectionalSync(*patch.BidirectionalSync)
	}
	if patch.ServerHost != nil {
		effects["server_host"] = s.relay.SetServerHost(*patch.ServerHost)
	}
	if patch.ServerPort != nil {
		effects["server_port"] = s.relay.SetServerPort(*patch.ServerPort)
	}
	if patch.StreamID != nil {
		effects["stream_id"] = s.relay.SetStreamID(*patch.StreamID)
	}
	if patch.LocalPort != nil {
		effects["local_port"] = s.relay.SetLocalPort(*patch.LocalPort)
	}
	if patch.UseFixedLocalPort != nil {
		effects["use_fixed_local_port"] = s.relay.SetUseFixedLocalPort(*patch.UseFixedLocalPort)
	}
	if patch.LatencyMs != nil {
		eff, err := s.relay.SetLatency(*patch.LatencyMs)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		effects["latency_ms"] = eff
	}
	if patch.AutoStart != nil {
		effects["auto_start"] = s.relay.SetAutoStart(*patch.AutoStart)
	}

	s.BroadcastStatus()
	render.JSON(w, r, settingsResponse{Settings: s.relay.Settings(), Effects: effects})
}

func (s *Server) handleSyncFromHost(w http.ResponseWriter, r *http.Request) {
	changed := s.syncer.SyncFromExternal()
	if changed {
		s.BroadcastStatus()
	}
	render.JSON(w, r, map[string]bool{"changed": changed})
}

func (s *Server) handleSyncToHost(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]bool{"changed": s.syncer.SyncToExternal()})
}

// Host application events, named after the frontend events they mirror.
const (
	EventStreamingStarting      = "streaming-starting"
	EventStreamingStopping      = "streaming-stopping"
	EventFinishedLoading        = "finished-loading"
	EventSceneCollectionChanged = "scene-collection-changed"
)

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	s.logger.Info("host event", zap.String("event", event))

	switch event {
	case EventStreamingStarting:
		if err := s.relay.OnStreamingStarting(); err != nil {
			s.writeError(w, r, err)
			return
		}
	case EventStreamingStopping:
		s.relay.OnStreamingStopping()
	case EventFinishedLoading, EventSceneCollectionChanged:
		if s.syncer.Enabled() {
			s.syncer.SyncFromExternal()
		}
	default:
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "unknown event " + event})
		return
	}

	s.BroadcastStatus()
	render.JSON(w, r, s.status())
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, relay.ErrServerNotConfigured):
		code = http.StatusConflict
	case errors.Is(err, relay.ErrLatencyOutOfRange):
		code = http.StatusBadRequest
	}
	s.logger.Warn("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	render.Status(r, code)
	render.JSON(w, r, map[string]string{"error": err.Error()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("remote", clientIP(r)), zap.Error(err))
		return
	}
	defer conn.Close()

	c := &client{conn: conn, limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5)}
	s.clientsMutex.Lock()
	s.clients[conn] = c
	s.clientsMutex.Unlock()
	s.logger.Info("websocket connected", zap.String("remote", clientIP(r)))

	defer func() {
		s.clientsMutex.Lock()
		delete(s.clients, conn)
		s.clientsMutex.Unlock()
		s.logger.Info("websocket disconnected", zap.String("remote", clientIP(r)))
	}()

	c.send(map[string]interface{}{"type": "status", "status": s.status()})

	for {
		messageType, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(p, &msg); err != nil {
			c.send(map[string]interface{}{"type": "error", "error": "invalid message"})
			continue
		}
		if !c.limiter.Allow() {
			c.send(map[string]interface{}{"type": "error", "error": "rate limited"})
			continue
		}
		s.handleCommand(c, msg.Type)
	}
}

func (s *Server) handleCommand(c *client, command string) {
	switch command {
	case "start":
		if err := s.relay.Start(); err != nil {
			c.send(map[string]interface{}{"type": "error", "error": err.Error()})
			return
		}
	case "stop":
		s.relay.Stop()
	case "sync_to_host":
		c.send(map[string]interface{}{"type": "synced", "direction": "to_host", "changed": s.syncer.SyncToExternal()})
	case "sync_from_host":
		c.send(map[string]interface{}{"type": "synced", "direction": "from_host", "changed": s.syncer.SyncFromExternal()})
	case "status":
		c.send(map[string]interface{}{"type": "status", "status": s.status()})
		return
	default:
		c.send(map[string]interface{}{"type": "error", "error": "unknown command " + command})
		return
	}
	s.BroadcastStatus()
}

// BroadcastUpdate sends update to every websocket client, dropping the
// ones that fail.
func (s *Server) BroadcastUpdate(update interface{}) {
	s.clientsMutex.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMutex.RUnlock()

	for _, c := range clients {
		if err := c.send(update); err != nil {
			s.logger.Debug("dropping websocket client", zap.Error(err))
			s.clientsMutex.Lock()
			delete(s.clients, c.conn)
			s.clientsMutex.Unlock()
			c.conn.Close()
		}
	}
}

// BroadcastStatus pushes the current status to every client.
func (s *Server) BroadcastStatus() {
	s.BroadcastUpdate(map[string]interface{}{"type": "status", "status": s.status()})
}

// OnNetworkChange pushes a new snapshot to every client. It is meant to be
// registered with netmon.Monitor.
func (s *Server) OnNetworkChange(snap netmon.Snapshot) {
	s.BroadcastUpdate(map[string]interface{}{"type": "interfaces", "interfaces": snap})
}
