// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"chatClient/pkg/chat"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Time allowed for a command from the view to complete.
	commandTimeout = 30 * time.Second
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Commands a view may send over its websocket.
const (
	CommandTyping = "typing"
	CommandSend   = "send"
)

type command struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Client is a middleman between the ws connection and the Hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames from the hub.
	send chan []byte

	// Frames addressed to this client only, such as command errors.
	replies chan []byte

	// uid the connection authenticated as.
	id string

	// Connection id used in logs.
	connId string

	session *chat.Session
	log     *zap.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, id string, session *chat.Session, logger *zap.Logger) *Client {
	connId := uuid.NewString()
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		replies: make(chan []byte, 16),
		id:      id,
		connId:  connId,
		session: session,
		log:     logger.With(zap.String("conn", connId)),
	}
}

// ReadPump pumps commands from the ws connection to the session.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.log.Debug("closing view connection", zap.Error(err))
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("unable to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Info("view connection closed", zap.Error(err))
			}
			return
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.reply(errorFrame(err))
			continue
		}
		if err := c.handle(ctx, cmd); err != nil {
			c.reply(errorFrame(err))
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd command) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd.Type {
	case CommandTyping:
		return c.session.Keystroke(ctx, cmd.Text)
	case CommandSend:
		_, err := c.session.Send(ctx, cmd.Text)
		return err
	default:
		return errUnknownCommand(cmd.Type)
	}
}

func (c *Client) reply(frame []byte) {
	select {
	case c.replies <- frame:
	default:
		c.log.Debug("dropping reply to busy view client")
	}
}

// WritePump pumps frames from the Hub to the ws connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued frames to the current ws message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write(newline)
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case message := <-c.replies:
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
