package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	socketWriteWait      = 10 * time.Second
	socketPongWait       = 60 * time.Second
	socketPingPeriod     = socketPongWait * 9 / 10
	socketMaxMessageSize = 4096
)

// socketConnection adapts a gorilla connection to realtime.Connection. Writes are serialized because gorilla
// allows one concurrent writer.
type socketConnection struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newSocketConnection(conn *websocket.Conn) *socketConnection {
	return &socketConnection{conn: conn}
}

func (s *socketConnection) Send(ctx context.Context, event realtime.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(socketWriteWait)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *socketConnection) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait))
}

func (s *socketConnection) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			parsed, err := url.Parse(origin)
			return err == nil && parsed.Host == r.Host
		},
	}
}

// closePolicy rejects an upgraded connection before any event is sent.
func closePolicy(conn *websocket.Conn, reason string) {
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(socketWriteWait))
	_ = conn.Close()
}

// socketUser authenticates the ?token query parameter.
func (h *httpHandler) socketUser(r *http.Request) (string, bool) {
	token, ok := auth.QueryToken(r)
	if !ok {
		return "", false
	}
	userID, err := h.authenticate(r.Context(), token)
	if err != nil {
		return "", false
	}
	return userID, true
}

func (h *httpHandler) handleChannelSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	userID, ok := h.socketUser(c.Request)
	if !ok {
		closePolicy(conn, "invalid token")
		return
	}
	channel, err := h.communities.AuthorizeChannel(c.Request.Context(), userID, c.Param("channel_slug"))
	if err != nil {
		closePolicy(conn, "channel unavailable")
		return
	}

	socket := newSocketConnection(conn)
	topic := channel.Slug
	subscriptionID := h.registry.Subscribe(topic, userID, socket)
	ctx := context.WithoutCancel(c.Request.Context())
	h.registry.BroadcastExcept(ctx, topic, realtime.NewEvent(realtime.EventUserJoined, map[string]any{
		"user_id":      userID,
		"channel_slug": topic,
	}), subscriptionID)

	h.serveSocket(socket)

	h.registry.Unsubscribe(topic, subscriptionID)
	_ = socket.Close()
	h.registry.Broadcast(ctx, topic, realtime.NewEvent(realtime.EventUserLeft, map[string]any{
		"user_id":      userID,
		"channel_slug": topic,
	}))
}

func (h *httpHandler) handleConversationSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	userID, ok := h.socketUser(c.Request)
	if !ok {
		closePolicy(conn, "invalid token")
		return
	}
	conversation, err := h.chat.AuthorizeConversation(c.Request.Context(), c.Param("conversation_id"), userID)
	if err != nil {
		closePolicy(conn, "conversation unavailable")
		return
	}

	socket := newSocketConnection(conn)
	topic := realtime.DMTopic(conversation.ID)
	subscriptionID := h.registry.Subscribe(topic, userID, socket)

	h.serveSocket(socket)

	h.registry.Unsubscribe(topic, subscriptionID)
	_ = socket.Close()
}

// serveSocket keeps the connection alive until the client goes away. Client frames are read and discarded;
// messages are posted over HTTP.
func (h *httpHandler) serveSocket(socket *socketConnection) {
	conn := socket.conn
	conn.SetReadLimit(socketMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(socketPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := socket.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}
