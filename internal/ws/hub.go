package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GeoDaCenter/gdabridge/internal/host"
	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *clientConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// session is one connected page. It is the host.Page the host talks back to.
type session struct {
	id      string
	client  *clientConn
	logger  *zap.Logger
	limiter *rate.Limiter
}

func (s *session) ID() string { return s.id }

func (s *session) Respond(_ context.Context, env protocol.ResponseEnvelope) error {
	return s.send(protocol.FrameResponse, env)
}

func (s *session) Update(_ context.Context, n protocol.Notification) error {
	return s.send(protocol.FrameUpdate, n)
}

func (s *session) send(typ string, payload any) error {
	frame := protocol.NewFrame(uuid.NewString(), typ, s.id, payload)
	logFrame(s.logger, "send host->page", frame)
	return s.client.WriteJSON(frame)
}

var errTitleRate = errors.New("title rate exceeded")

// Hub accepts page connections and feeds their titles to the host.
type Hub struct {
	host      *host.Host
	authToken string
	jwtSecret []byte
	logger    *zap.Logger

	titleRate  rate.Limit
	titleBurst int

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

func NewHub(h *host.Host, authToken string, logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := &Hub{
		host:      h,
		authToken: authToken,
		logger:    logger.Named("hub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub
}

func (h *Hub) HandlePage(w http.ResponseWriter, r *http.Request) {
	subject, err := h.authorize(r)
	if err != nil {
		h.logger.Warn("page unauthorized", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade page ws failed", zap.Error(err))
		return
	}
	sess := &session{
		id:     uuid.NewString(),
		client: &clientConn{conn: conn},
	}
	if h.titleRate > 0 {
		sess.limiter = rate.NewLimiter(h.titleRate, h.titleBurst)
	}
	sess.logger = h.logger.With(zap.String("session_id", sess.id))

	h.mu.Lock()
	h.sessions[sess.id] = sess
	count := len(h.sessions)
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	sess.logger.Info("page connected",
		zap.String("remote", r.RemoteAddr),
		zap.String("subject", subject),
		zap.Int("active_pages", count))
	if err := h.host.Attach(r.Context(), sess); err != nil {
		sess.logger.Warn("attach page failed", zap.Error(err))
	}
	h.readPage(sess)
}

func (h *Hub) readPage(sess *session) {
	defer func() {
		h.host.Detach(sess)
		h.mu.Lock()
		delete(h.sessions, sess.id)
		count := len(h.sessions)
		h.mu.Unlock()
		_ = sess.client.conn.Close()
		sess.logger.Info("page disconnected", zap.Int("active_pages", count))
	}()

	for {
		var frame protocol.Frame
		if err := sess.client.conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Debug("recv page->host failed", zap.Error(err))
			}
			return
		}
		logFrame(sess.logger, "recv page->host", frame)
		if frame.Type != protocol.FrameTitle {
			sess.logger.Debug("ignore non-title from page", zap.String("type", frame.Type), zap.String("msg_id", frame.MsgID))
			continue
		}

		if sess.limiter != nil && !sess.limiter.Allow() {
			h.sendError(sess, frame, "RATE_LIMITED", errTitleRate)
			continue
		}

		var title string
		if err := protocol.Unmarshal(frame.Payload, &title); err != nil {
			h.sendError(sess, frame, "BAD_TITLE", err)
			continue
		}
		if err := h.host.HandleTitle(context.Background(), sess, title); err != nil {
			sess.logger.Warn("handle title failed", zap.String("msg_id", frame.MsgID), zap.Error(err))
			h.sendError(sess, frame, "TITLE_FAILED", err)
		}
	}
}

func (h *Hub) sendError(sess *session, frame protocol.Frame, code string, err error) {
	errFrame := protocol.NewFrame(frame.MsgID, protocol.FrameError, sess.id, protocol.ErrorPayload{Code: code, Message: err.Error()})
	logFrame(sess.logger, "send host->page(error)", errFrame)
	if werr := sess.client.WriteJSON(errFrame); werr != nil {
		sess.logger.Debug("send error frame failed", zap.Error(werr))
	}
}

// Sessions returns the number of connected pages.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every page and waits for their handlers to finish.
func (h *Hub) Close() {
	h.mu.RLock()
	for _, sess := range h.sessions {
		_ = sess.client.conn.Close()
	}
	h.mu.RUnlock()
	h.wg.Wait()
}

func logFrame(logger *zap.Logger, prefix string, f protocol.Frame) {
	logger.Debug(prefix,
		zap.String("type", f.Type),
		zap.String("msg_id", f.MsgID),
		zap.String("session_id", f.SessionID),
		zap.Int64("timestamp", f.Timestamp))
}
