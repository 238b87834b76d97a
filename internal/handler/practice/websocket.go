package practice

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler 处理浏览器录音的 WebSocket 连接：
// 二进制帧是 PCM16 音频，文本帧是控制指令。
type WebSocketHandler struct {
	service  *practiceService.Service
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(service *practiceService.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			// 跨域由 cors 中间件控制
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *wsConn) send(msgType string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msgType, err)
	}
}

func (c *wsConn) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// HandleWebSocket 升级连接并在会话上收发音频与事件
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn, sessionID: sess.ID}

	// 麦克风会话只接收控制指令
	streaming := true
	if err := sess.AttachClient(); err != nil {
		if !errors.Is(err, practiceService.ErrNotPushSource) {
			c.sendError(err.Error())
			return
		}
		streaming = false
	}
	defer sess.DetachClient()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	log.Printf("[websocket] client connected session=%s streaming=%t", sess.ID, streaming)
	c.send("ready", map[string]any{"streaming": streaming, "session": sess.View()})

	go h.forwardEvents(ctx, c, events)
	go h.pingLoop(ctx, c)

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error session=%s: %v", sess.ID, err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch msgType {
		case websocket.BinaryMessage:
			if !streaming {
				c.sendError("session does not accept streamed audio")
				continue
			}
			// 未在录音时到达的音频直接丢弃
			sess.PushAudio(data)
		case websocket.TextMessage:
			var msg inboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError("invalid message format")
				continue
			}
			h.handleControl(ctx, c, sess.ID, msg)
		}
	}
	log.Printf("[websocket] client disconnected session=%s", sess.ID)
}

func (h *WebSocketHandler) handleControl(ctx context.Context, c *wsConn, sessionID string, msg inboundMessage) {
	var err error
	switch msg.Type {
	case "start":
		err = h.service.Start(ctx, sessionID)
	case "pause":
		err = h.service.Pause(ctx, sessionID)
	case "resume":
		err = h.service.Resume(ctx, sessionID)
	case "stop":
		err = h.service.Stop(ctx, sessionID)
	case "reset":
		err = h.service.Reset(ctx, sessionID)
	case "process":
		err = h.service.ProcessAsync(ctx, sessionID)
	case "ping":
		c.send("pong", nil)
		return
	default:
		c.sendError("unknown message type: " + msg.Type)
		return
	}
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.send("ack", map[string]string{"action": msg.Type})
}

func (h *WebSocketHandler) forwardEvents(ctx context.Context, c *wsConn, events <-chan practiceService.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.send("closed", nil)
				return
			}
			c.send(ev.Type, ev)
		}
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
