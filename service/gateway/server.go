package gateway

import (
	"MeshHub/service/protocol"
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"MeshHub/global/config"
	"MeshHub/logger"
	"MeshHub/service/model"
	"MeshHub/tools/decode"
	"MeshHub/tools/errs"
	"MeshHub/tools/ids"
	"MeshHub/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// IdentityStore checks an asserted identity during the auth
// handshake.
type IdentityStore interface {
	VerifyIdentity(ctx context.Context, id, email string) (bool, error)
}

// MessageStore persists room messages and serves the seed list.
type MessageStore interface {
	Insert(ctx context.Context, draft model.MessageDraft) (model.ChatMessage, error)
	Recent(ctx context.Context, limit int) ([]model.ChatMessage, error)
}

// PresenceMirror reflects registry membership into shared storage for
// the rest of the application (profile pages, admin). Mirror failures
// are soft: they are logged and never affect the connection.
type PresenceMirror interface {
	Online(ctx context.Context, userID, nodeID string) error
	Offline(ctx context.Context, userID string) error
	Lookup(ctx context.Context, userID string) (node string, online bool, err error)
}

type Deps struct {
	Identity IdentityStore
	Store    MessageStore
	Mirror   PresenceMirror // optional
}

// Server is the presence gateway: it brokers connections, the auth
// handshake, persistence hand-off and fan-out for one process.
type Server struct {
	cfg      *config.AppConfig
	registry *Registry
	disp     *Dispatcher
	deps     Deps

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		disp:     NewDispatcher(),
		deps:     deps,
		stopCh:   make(chan struct{}),
	}
}

func (s *Server) Disp() *Dispatcher         { return s.disp }
func (s *Server) Registry() *Registry       { return s.registry }
func (s *Server) Config() *config.AppConfig { return s.cfg }
func (s *Server) Identity() IdentityStore   { return s.deps.Identity }
func (s *Server) Store() MessageStore       { return s.deps.Store }

// Start launches the liveness sweeper. Close stops it and drops all
// sessions.
func (s *Server) Start() {
	safe.SafeGo(s.sweeper)
}

func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	for _, sess := range s.snapshot() {
		sess.closeWith(websocket.CloseGoingAway, "gateway shutdown")
	}
}

func (s *Server) snapshot() []*Session {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	out := make([]*Session, 0, len(s.registry.byUser))
	for _, sess := range s.registry.byUser {
		out = append(out, sess)
	}
	return out
}

// HandleWS upgrades the connection and runs the read loop until the
// socket dies. The session joins the registry only via the auth
// handler; until then only the auth-deadline timer knows about it.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	sess := newSession(ids.GenerateString(), ws, s.cfg.SendBuffer, s.cfg.WriteWait)
	safe.SafeGo(sess.writePump)

	ws.SetPongHandler(func(string) error {
		sess.alive.Store(true)
		return nil
	})

	sess.setAuthTimer(time.AfterFunc(s.cfg.AuthDeadline, func() {
		if !sess.Authenticated() {
			logger.Infof("[HandleWS] %v conn=%s", errs.ErrAuthTimeout.Wrap(), sess.ConnID)
			sess.closeWith(protocol.CloseAuthTimeout, "authentication timeout")
		}
	}))

	s.readLoop(sess)
	s.onClose(sess)
}

func (s *Server) readLoop(sess *Session) {
	ws := sess.conn
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", sess.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", sess.ConnID, rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", sess.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := protocol.DecodeFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] DecodeFrame err conn=%s err=%v sample=%q", sess.ConnID, perr, sample)
			continue
		}

		// Anything but auth from an unauthenticated session is
		// silently discarded.
		if !sess.Authenticated() && frame.FrameType() != protocol.FrameAuth {
			logger.Debug("[WS] drop frame from unauthenticated session")
			continue
		}

		if err := s.disp.Dispatch(&Context{S: s}, frame, sess); err != nil {
			logger.Infof("[WS] handler err type=%s conn=%s err=%v", frame.FrameType(), sess.ConnID, err)
		}
	}
}

// onClose runs once the read loop exits, whether the peer closed, the
// sweeper evicted us, or a newer login replaced us.
func (s *Server) onClose(sess *Session) {
	sess.stopAuthTimer()
	sess.closeWith(websocket.CloseNormalClosure, "")

	if !sess.Authenticated() {
		return
	}
	removed, count := s.registry.Remove(sess)
	if !removed {
		// Superseded by a newer session for the same user; presence
		// was already announced by the auth handler.
		return
	}
	s.MirrorOffline(sess.User().ID)
	s.registry.AnnouncePresence()
	logger.Infof("[WS] closed conn=%s user=%s online=%d", sess.ConnID, sess.User().ID, count)
}

// ---- liveness sweep ----

func (s *Server) sweeper() {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.sweepOnce()
		}
	}
}

func (s *Server) sweepOnce() {
	dead, toPing := s.registry.Sweep()
	for _, sess := range dead {
		logger.Infof("[sweep] evict conn=%s user=%s", sess.ConnID, sess.User().ID)
		s.MirrorOffline(sess.User().ID)
		sess.closeWith(protocol.CloseHeartbeat, "heartbeat timeout")
	}
	if len(dead) > 0 {
		s.registry.AnnouncePresence()
	}
	for _, sess := range toPing {
		if err := sess.ping(); err != nil {
			logger.Infof("[sweep] ping err conn=%s err=%v", sess.ConnID, err)
		}
		// Refresh the mirror key so its TTL outlives the sweeps a
		// long-lived session sits through.
		s.MirrorOnline(sess.User().ID)
	}
}

// ---- presence mirror (soft failures) ----

func (s *Server) MirrorOnline(userID string) {
	if s.deps.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Mirror.Online(ctx, userID, s.cfg.NodeId); err != nil {
		logger.Warnf("[mirror] online err user=%s err=%v", userID, err)
	}
}

func (s *Server) MirrorOffline(userID string) {
	if s.deps.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Mirror.Offline(ctx, userID); err != nil {
		logger.Warnf("[mirror] offline err user=%s err=%v", userID, err)
	}
}

// ---- HTTP surface ----

// RegisterRoutes wires the websocket endpoint and the REST reads the
// client seeds itself from.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", s.HandleWS)
	api := r.Group("/api")
	api.GET("/messages/recent", s.handleRecent)
	api.POST("/messages/system", s.handleSystemMessage)
	api.GET("/presence", s.handlePresence)
	api.GET("/presence/:user", s.handlePresenceUser)
}

func (s *Server) handleRecent(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	msgs, err := s.deps.Store.Recent(ctx, limit)
	if err != nil {
		logger.Errorf("[api] recent messages: %v", errs.ErrServerInternal.WrapMsg(err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch failed"})
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handlePresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": s.registry.Count()})
}

// handlePresenceUser answers "is this user online". The local registry
// is authoritative for this node; the mirror covers users connected
// elsewhere.
func (s *Server) handlePresenceUser(c *gin.Context) {
	uid := c.Param("user")
	if s.registry.Get(uid) != nil {
		c.JSON(http.StatusOK, gin.H{"online": true, "node": s.cfg.NodeId})
		return
	}
	if s.deps.Mirror == nil {
		c.JSON(http.StatusOK, gin.H{"online": false})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	node, online, err := s.deps.Mirror.Lookup(ctx, uid)
	if err != nil {
		logger.Warnf("[api] presence lookup err user=%s: %v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": online, "node": node})
}

// handleSystemMessage lets backend jobs inject a message into the room
// without holding a websocket. The body is a loose JSON object decoded
// into a draft; the durable copy fans out like any other message.
func (s *Server) handleSystemMessage(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	draft, err := decode.DecodeMap[model.MessageDraft](body)
	if err != nil || draft.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid draft"})
		return
	}
	if draft.Kind == "" {
		draft.Kind = model.KindText
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	msg, err := s.deps.Store.Insert(ctx, *draft)
	if err != nil {
		logger.Errorf("[api] %v", errs.ErrPersistFailed.WrapMsg(err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist failed"})
		return
	}
	if payload, perr := protocol.EncodeFrame(&protocol.MessageFrame{Message: msg}); perr == nil {
		s.registry.Broadcast(payload)
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
