package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/softphone"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// The UI is served to a browser on the agent's own machine.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type stateMessage struct {
	Type  string             `json:"type"`
	State softphone.Snapshot `json:"state"`
}

type WebsocketHandler struct {
	phone  Phone
	logger zerolog.Logger
}

func NewWebsocketHandler(phone Phone, logger zerolog.Logger) *WebsocketHandler {
	return &WebsocketHandler{phone: phone, logger: logger}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	clientID := uuid.NewString()
	c := &client{
		phone:   h.phone,
		conn:    conn,
		results: make(chan Result, 16),
		logger:  h.logger.With().Str("client_id", clientID).Logger(),
	}
	c.logger.Debug().Msg("UI client connected")

	ctx, cancel := context.WithCancel(context.Background())
	go c.writePump(ctx)
	c.readPump(ctx)
	cancel()
}

// client is one UI connection. readPump owns reads, writePump owns writes.
type client struct {
	phone   Phone
	conn    *websocket.Conn
	results chan Result
	logger  zerolog.Logger
}

func (c *client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		c.logger.Debug().Str("action", cmd.Action).Msg("Command received")

		// Commands may block on signaling; keep reading meanwhile.
		go func(cmd Command) {
			result := Dispatch(ctx, c.phone, cmd)
			select {
			case c.results <- result:
			case <-ctx.Done():
			}
		}(cmd)
	}
}

func (c *client) writePump(ctx context.Context) {
	updates, unsubscribe := c.phone.Subscribe()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		unsubscribe()
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var err error
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case snap := <-updates:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteJSON(stateMessage{Type: "state", State: snap})
		case result := <-c.results:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteJSON(result)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			c.logger.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}
