package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"houseparty-server/middleware"
	apierrors "houseparty-server/utils/errors"
	"houseparty-server/utils/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendQueueSize  = 64
)

// Authenticator resolves an access token to a user id.
type Authenticator func(ctx context.Context, token string) (userID string, ok bool)

// Client is a websocket connection registered with the coordinator.
type Client struct {
	id     string
	userID string
	coord  *Coordinator
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	log    *logrus.Entry
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

func (c *Client) Send(ev Event) bool {
	b, err := json.Marshal(ev)
	if err != nil {
		c.log.WithError(err).WithField("event", ev.Event).Error("failed to encode event")
		return true
	}
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// readPump dispatches incoming frames until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.coord.Disconnect(c.id)
		_ = c.Close()
		c.log.Info("realtime client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("unexpected websocket close")
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.coord.Reply(c.id, Event{Event: EventError, Data: errorPayload{Message: "malformed message"}})
			continue
		}
		c.handle(ev)
	}
}

// handle acts on one client event. Any user id in the payload is ignored;
// the identity is the one authenticated at connect time.
func (c *Client) handle(ev Event) {
	switch ev.Event {
	case EventEnterHouse:
		c.coord.Enter(c.id)
	case EventLeaveHouse:
		c.coord.Leave(c.id)
	case EventGetUsersInHouse:
		c.coord.Reply(c.id, Event{Event: EventAck, Ack: ev.Ack, Data: c.coord.HouseMembers()})
	default:
		c.coord.Reply(c.id, Event{Event: EventError, Ack: ev.Ack, Data: errorPayload{Message: "unknown event " + ev.Event}})
	}
}

// writePump owns all writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ServeWS upgrades authenticated requests and attaches them to coord.
// reject writes the HTTP error for requests that fail authentication.
func ServeWS(coord *Coordinator, authenticate Authenticator, allowedOrigins []string, reject func(http.ResponseWriter, *http.Request, error)) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			reject(w, r, apierrors.ErrUnauthorized)
			return
		}
		userID, ok := authenticate(r.Context(), token)
		if !ok {
			reject(w, r, apierrors.ErrInvalidToken)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			logger.FromContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
			return
		}

		client := &Client{
			id:     uuid.NewString(),
			userID: userID,
			coord:  coord,
			conn:   conn,
			send:   make(chan []byte, sendQueueSize),
			done:   make(chan struct{}),
		}
		client.log = logger.Base().WithField("conn_id", client.id).WithField("user_id", userID)
		coord.Register(client)
		client.log.Info("realtime client connected")

		go client.writePump()
		go client.readPump()
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return middleware.OriginAllowed(allowed, origin)
	}
}
