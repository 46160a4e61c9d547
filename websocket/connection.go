package websocket

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"field-service-server/middleware"
	"field-service-server/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512

	sendBuffer = 64
)

// Client is one websocket connection of an authenticated user.
type Client struct {
	hub    *Hub
	userID uint
	role   models.UserRole
	conn   *websocket.Conn
	send   chan []byte
}

// originChecker accepts requests without an Origin header, same-host origins
// and anything in allowed. A "*" entry allows every origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWS upgrades an authenticated request and registers the connection
// with hub. It must run after middleware.WebSocketAuthMiddleware.
//
// @Summary      Live notifications
// @Description  Upgrades to a WebSocket that pushes task and request events to the caller. Send {"type":"ping"} to get a pong.
// @Tags         notifications
// @Param        token  query  string  false  "Access token, when no Authorization header can be sent"
// @Success      101    "Switching Protocols"
// @Failure      401    "Unauthorized"
// @Failure      403    "Forbidden"
// @Router       /ws/ [get]
func ServeWS(hub *Hub, allowedOrigins []string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication credentials were not provided"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already answered the client.
			hub.log.Warn("websocket upgrade failed", zap.Uint("user_id", user.ID), zap.Error(err))
			return
		}

		client := &Client{
			hub:    hub,
			userID: user.ID,
			role:   user.Role,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
		}
		if !hub.add(client) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump drains the connection. Clients only ever send pings; anything
// else is ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Uint("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "ping" {
			continue
		}
		pong, _ := json.Marshal(&Message{Type: "pong", Timestamp: time.Now().UTC()})
		c.hub.reply(c, pong)
	}
}

// writePump delivers queued messages and keeps the connection alive with
// pings. It exits when the hub closes the send channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
