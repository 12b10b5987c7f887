// Package hostserver is the in-process direct-connect variant: a host
// application serves its own screen over a local port, with 6-digit access
// codes instead of relay identifiers. Screen capture and input injection are
// external collaborators reached through the two interfaces below.
package hostserver

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"remote-relay/internal/auth"
	"remote-relay/internal/middleware"
)

type ScreenCapturer interface {
	CaptureFrame() ([]byte, error)
}

type InputInjector interface {
	InjectInput(event json.RawMessage) error
}

type Deps struct {
	Codes       *auth.CodeManager
	TokenConfig auth.TokenConfig
	AdminSecret string

	// Screen and Input may be nil when the host side is not wired up; the
	// server then answers viewers with an error instead of a frame.
	Screen ScreenCapturer
	Input  InputInjector
}

type peer struct {
	id        string
	role      string
	sessionID string
	w         *wsWriter
}

type hostSession struct {
	id        string
	hostID    string
	viewers   map[string]struct{}
	createdAt int64
}

type Server struct {
	codes       *auth.CodeManager
	tokenCfg    auth.TokenConfig
	adminSecret string
	screen      ScreenCapturer
	input       InputInjector
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	peers    map[string]*peer
	sessions map[string]*hostSession
}

func NewServer(deps Deps) *Server {
	return &Server{
		codes:       deps.Codes,
		tokenCfg:    deps.TokenConfig,
		adminSecret: deps.AdminSecret,
		screen:      deps.Screen,
		input:       deps.Input,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers:    make(map[string]*peer),
		sessions: make(map[string]*hostSession),
	}
}

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", s.handleHealth)

	codeLimiter := middleware.NewRateLimiter(10, time.Minute)
	r.POST("/generate-code", middleware.RateLimitMiddleware(codeLimiter), s.handleGenerateCode)

	r.GET("/ws", s.handleWS)

	if s.adminSecret != "" {
		loginLimiter := middleware.NewRateLimiter(5, time.Minute)
		r.POST("/admin/login", middleware.RateLimitMiddleware(loginLimiter), s.handleAdminLogin)

		admin := r.Group("/admin", middleware.RequireAuth(s.tokenCfg))
		admin.GET("/codes", s.handleListCodes)
		admin.GET("/codes/stats", s.handleCodeStats)
		admin.DELETE("/codes/:code", s.handleRevokeCode)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	clients := len(s.peers)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": clients})
}

func (s *Server) handleGenerateCode(c *gin.Context) {
	ac, err := s.codes.Generate()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": ac.Code, "expires": ac.ExpiresAt})
}

type adminLoginBody struct {
	Secret string `json:"secret"`
}

func (s *Server) handleAdminLogin(c *gin.Context) {
	var body adminLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(s.adminSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret"})
		return
	}
	token, err := auth.CreateToken("admin", s.tokenCfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleListCodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"codes": s.codes.Active()})
}

func (s *Server) handleCodeStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.codes.Stats())
}

func (s *Server) handleRevokeCode(c *gin.Context) {
	code := c.Param("code")
	if !s.codes.Revoke(code) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Code not found"})
		return
	}
	adminID, _ := middleware.AdminIDFromContext(c)
	log.Printf("access code %s revoked by %s", code, adminID)
	c.JSON(http.StatusOK, gin.H{"revoked": code, "revokedBy": adminID})
}

type inboundMsg struct {
	Type       string          `json:"type"`
	AccessCode string          `json:"accessCode,omitempty"`
	Event      json.RawMessage `json:"event,omitempty"`
}

type outboundMsg struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	AccessCode string `json:"accessCode,omitempty"`
	ViewerID   string `json:"viewerId,omitempty"`
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	p := &peer{id: uuid.NewString(), w: &wsWriter{conn: ws}}
	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()
	log.Printf("client connected: %s", p.id)

	_ = p.w.send(outboundMsg{Type: "connected", ClientID: p.id})

	defer func() {
		s.handleDisconnect(p.id)
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = p.w.send(outboundMsg{Type: "error", Message: "invalid message"})
			continue
		}
		s.handleMessage(p, msg)
	}
}

func (s *Server) handleMessage(p *peer, msg inboundMsg) {
	switch msg.Type {
	case "register_host":
		s.registerHost(p, msg.AccessCode)
	case "connect_viewer":
		s.connectViewer(p, msg.AccessCode)
	case "screen_request":
		s.handleScreenRequest(p)
	case "input_event":
		s.handleInputEvent(p, msg.Event)
	case "disconnect_session":
		s.leaveSession(p.id)
	default:
		log.Printf("unknown message type: %q", msg.Type)
	}
}

func (s *Server) registerHost(p *peer, accessCode string) {
	if !s.codes.Validate(accessCode) {
		_ = p.w.send(outboundMsg{Type: "auth_failed", Message: "Invalid or expired code"})
		return
	}

	s.mu.Lock()
	p.role = "host"
	sess := &hostSession{
		id:        uuid.NewString(),
		hostID:    p.id,
		viewers:   make(map[string]struct{}),
		createdAt: time.Now().UnixMilli(),
	}
	s.sessions[sess.id] = sess
	p.sessionID = sess.id
	s.mu.Unlock()

	_ = p.w.send(outboundMsg{Type: "host_registered", SessionID: sess.id, AccessCode: accessCode})
	log.Printf("host registered: %s, session: %s", p.id, sess.id)
}

func (s *Server) connectViewer(p *peer, accessCode string) {
	if !s.codes.Validate(accessCode) {
		_ = p.w.send(outboundMsg{Type: "auth_failed", Message: "Invalid or expired code"})
		return
	}

	s.mu.Lock()
	var sess *hostSession
	for _, candidate := range s.sessions {
		if _, ok := s.peers[candidate.hostID]; ok {
			sess = candidate
			break
		}
	}
	if sess == nil {
		s.mu.Unlock()
		_ = p.w.send(outboundMsg{Type: "connection_failed", Message: "No active session found"})
		return
	}
	p.role = "viewer"
	p.sessionID = sess.id
	sess.viewers[p.id] = struct{}{}
	host := s.peers[sess.hostID]
	s.mu.Unlock()

	_ = p.w.send(outboundMsg{Type: "viewer_connected", SessionID: sess.id})
	if host != nil {
		_ = host.w.send(outboundMsg{Type: "viewer_joined", ViewerID: p.id})
	}
	log.Printf("viewer connected: %s to session %s", p.id, sess.id)
}

func (s *Server) handleScreenRequest(p *peer) {
	if p.role != "viewer" {
		return
	}
	if s.screen == nil {
		_ = p.w.send(outboundMsg{Type: "error", Message: "screen capture unavailable"})
		return
	}
	frame, err := s.screen.CaptureFrame()
	if err != nil {
		log.Printf("screen capture failed: %v", err)
		return
	}
	_ = p.w.sendBinary(frame)
}

func (s *Server) handleInputEvent(p *peer, event json.RawMessage) {
	if p.role != "viewer" || s.input == nil {
		return
	}
	if err := s.input.InjectInput(event); err != nil {
		log.Printf("input injection failed: %v", err)
	}
}

// leaveSession detaches the peer from its session: a departing host tears the
// session down and notifies every viewer, a departing viewer just leaves.
func (s *Server) leaveSession(peerID string) {
	s.mu.Lock()
	p, ok := s.peers[peerID]
	if !ok || p.sessionID == "" {
		s.mu.Unlock()
		return
	}

	var notify []*wsWriter
	sess := s.sessions[p.sessionID]
	if sess != nil {
		if p.role == "host" {
			for viewerID := range sess.viewers {
				if viewer, ok := s.peers[viewerID]; ok {
					notify = append(notify, viewer.w)
					viewer.sessionID = ""
				}
			}
			delete(s.sessions, sess.id)
			log.Printf("session ended: %s", sess.id)
		} else {
			delete(sess.viewers, peerID)
		}
	}
	ended := outboundMsg{Type: "session_ended", SessionID: p.sessionID}
	p.sessionID = ""
	s.mu.Unlock()

	for _, w := range notify {
		_ = w.send(ended)
	}
}

func (s *Server) handleDisconnect(peerID string) {
	s.leaveSession(peerID)
	s.mu.Lock()
	delete(s.peers, peerID)
	s.mu.Unlock()
	log.Printf("client disconnected: %s", peerID)
}

// wsWriter serializes writes to one socket. The hostserver also pushes raw
// binary frames, which the relay transport never does.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) sendBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}
