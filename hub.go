/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/Seednode/twentyq/games/twentyq"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Text fields are capped well below this by
	// the engine, which refuses longer ones with an error reply.
	maxMessageSize = 64 * 1024

	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Client struct {
	id   twentyq.ConnID
	conn *websocket.Conn
	send chan twentyq.Message
}

type inboundMessage struct {
	client *Client
	data   []byte
}

// Hub owns the game engine and every connected client. All engine calls
// happen on the goroutine running Hub.run, so game state needs no locking.
type Hub struct {
	cfg     *Config
	engine  *twentyq.Engine
	clients map[twentyq.ConnID]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	done       chan struct{}
}

func newHub(cfg *Config) *Hub {
	h := &Hub{
		cfg:        cfg,
		clients:    make(map[twentyq.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage),
		done:       make(chan struct{}),
	}

	h.engine = twentyq.NewEngine(twentyq.NewRegistry(cfg.guesses), h, func(format string, args ...any) {
		logf(cfg, format, args...)
	})

	return h
}

// Send queues msg for conn. A client whose buffer is full is dropped.
func (h *Hub) Send(conn twentyq.ConnID, msg twentyq.Message) {
	c, ok := h.clients[conn]
	if !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		logf(h.cfg, "GAMES: Dropping slow client %s", c.id)

		h.removeClient(c)
	}
}

func (h *Hub) Reachable(conn twentyq.ConnID) bool {
	_, ok := h.clients[conn]

	return ok
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.cfg.finishedTimeout > 0 {
		ticker := time.NewTicker(max(h.cfg.finishedTimeout/2, time.Second))
		defer ticker.Stop()

		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				h.removeClient(c)
			}

			return

		case c := <-h.register:
			h.clients[c.id] = c

			logf(h.cfg, "GAMES: Client %s connected (%d online)", c.id, len(h.clients))

		case c := <-h.unregister:
			h.removeClient(c)

			_, _ = h.engine.Handle(c.id, twentyq.ConnectionClosed{})

			logf(h.cfg, "GAMES: Client %s disconnected (%d online)", c.id, len(h.clients))

		case m := <-h.inbound:
			outcome, err := h.engine.HandleMessage(m.client.id, m.data)
			if err != nil {
				logf(h.cfg, "GAMES: Message from %s %s: %v", m.client.id, outcome, err)
			}

		case <-sweep:
			if n := h.engine.Sweep(h.cfg.finishedTimeout); n > 0 {
				logf(h.cfg, "GAMES: Swept %d finished games (%d remaining)", n, h.engine.Registry().Len())
			}
		}
	}
}

func serveWS(cfg *Config, h *Hub, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			reportError(errs, err)

			return
		}

		c := &Client{
			id:   twentyq.ConnID(uuid.NewString()),
			conn: conn,
			send: make(chan twentyq.Message, sendBuffer),
		}

		select {
		case h.register <- c:
		case <-h.done:
			_ = conn.Close()

			return
		}

		logf(cfg, "SERVE: Websocket %s for %s", c.id, realIP(r))

		go c.writePump(errs)
		c.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}

		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		select {
		case h.inbound <- inboundMessage{client: c, data: data}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump(errs chan<- error) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				reportError(errs, err)

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
