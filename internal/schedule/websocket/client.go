package websocket

import (
	"context"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

type Client struct {
	hub    *Hub
	conn   *gorillaWS.Conn
	userID string
	send   chan []byte
	ctx    context.Context
	log    *logger.Logger
}

func NewClient(ctx context.Context, hub *Hub, conn *gorillaWS.Conn, userID string, log *logger.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, constants.DefaultWebSocketSendBufSize),
		ctx:    context.WithoutCancel(ctx),
		log:    log,
	}
}

// Start registers the client and runs its pumps. The feed is one-way; inbound
// frames other than control frames are read and discarded.
func (c *Client) Start() {
	if !c.hub.Register(c) {
		_ = c.conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.DefaultWebSocketMaxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(constants.DefaultWebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.DefaultWebSocketPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if gorillaWS.IsUnexpectedCloseError(err, gorillaWS.CloseGoingAway, gorillaWS.CloseAbnormalClosure) {
				c.log.Warnf("websocket read error user_id=%s: %v", c.userID, err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(constants.DefaultWebSocketPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.DefaultWebSocketWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(gorillaWS.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gorillaWS.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.DefaultWebSocketWriteWait))
			if err := c.conn.WriteMessage(gorillaWS.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
