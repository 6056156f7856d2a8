// Package server manages individual WebSocket sessions, handling read/write
// pumps, the inbound message pipeline, and lifecycle control for each
// connection.
package server

import (
	"encoding/json"
	"errors"
	"html"
	"io"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client represents one session's lifetime in the relay: created on connect
// after credential verification, admitted or queued by the hub, torn down on
// transport close regardless of state.
type Client struct {
	id       string
	identity string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	addr     string
	closed   bool

	// state and slotHeld are owned by the admission controller and only
	// mutated under its lock.
	state    sessionState
	slotHeld bool

	maxMessageLen int
}

// NewClient creates a new Client for a verified identity with the provided
// WebSocket connection, hub reference, and client address. The client's send
// channel is buffered to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr, identity string) *Client {
	cfg := currentConfig()
	if conn != nil {
		// Byte limit on the frame; the character cap is enforced after decode.
		conn.SetReadLimit(int64(cfg.MaxMessageLength)*4 + 512)
	}

	return &Client{
		id:            uuid.New().String(),
		identity:      identity,
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           hub,
		addr:          addr,
		closed:        false,
		state:         stateConnecting,
		maxMessageLen: cfg.MaxMessageLength,
	}
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Identity returns the stable identity the session's credential resolved to.
func (c *Client) Identity() string {
	return c.identity
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type.
func (c *Client) handleReadError(err error) {
	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Message from %s exceeded the frame read limit", c.addr)
		return
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Client %s disconnected: %v", c.addr, err)
		return
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s connection closed: %v", c.addr, err)
		return
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
		return
	}

	log.Printf("WebSocket read error from %s: %v", c.addr, err)
}

// handleInbound runs the ingress pipeline for one raw frame: only text frames
// from active sessions are considered; malformed or oversized payloads are
// dropped silently; throttled messages notify only the sender; accepted
// content is escaped, wrapped with the sender identity, and broadcast.
func (c *Client) handleInbound(messageType int, rawMessage []byte) {
	if messageType != websocket.TextMessage {
		log.Printf("Dropping non-text frame from %s", c.addr)
		return
	}

	if state := c.hub.admission.stateOf(c); state != stateActive {
		log.Printf("Dropping message from %s session %s (%s)", state, c.id, c.addr)
		return
	}

	var msg Message
	if err := json.Unmarshal(rawMessage, &msg); err != nil {
		log.Printf("Invalid message from %s: %v", c.addr, err)
		return
	}

	if utf8.RuneCountInString(msg.Content) > c.maxMessageLen {
		log.Printf("Dropping oversized message from %s (%d > %d characters)",
			c.addr, utf8.RuneCountInString(msg.Content), c.maxMessageLen)
		return
	}

	if !c.hub.limiters.tryConsume(c.identity, time.Now()) {
		log.Printf("Rate limit exceeded for %q (%s); discarding message", c.identity, c.addr)
		c.hub.sendEvent(c, rateLimitedEvent("rate limit exceeded, slow down"))
		return
	}

	payload := chatEvent(html.EscapeString(msg.Content), c.identity)
	c.hub.broadcast <- BroadcastMessage{Sender: c, Payload: payload}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		messageType, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			break
		}

		c.handleInbound(messageType, rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		// Only log unexpected connection close errors
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// writeTextMessage writes a text message and any queued messages
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		log.Printf("Error creating writer for %s: %v", c.addr, err)
		return false
	}

	if !c.writeMessageContent(w, message) {
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	return c.closeWriter(w)
}

// writeMessageContent writes the main message content
func (c *Client) writeMessageContent(w io.WriteCloser, message []byte) bool {
	if _, err := w.Write(message); err != nil {
		log.Printf("Error writing message to %s: %v", c.addr, err)
		return false
	}
	return true
}

// writeQueuedMessages writes any additional queued messages
func (c *Client) writeQueuedMessages(w io.WriteCloser) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeQueuedMessage(w) {
			return false
		}
	}
	return true
}

// writeQueuedMessage writes a single queued message with newline separator
func (c *Client) writeQueuedMessage(w io.WriteCloser) bool {
	if _, err := w.Write([]byte{'\n'}); err != nil {
		log.Printf("Error writing newline to %s: %v", c.addr, err)
		return false
	}
	if _, err := w.Write(<-c.send); err != nil {
		log.Printf("Error writing queued message to %s: %v", c.addr, err)
		return false
	}
	return true
}

// closeWriter closes the message writer
func (c *Client) closeWriter(w io.WriteCloser) bool {
	if err := w.Close(); err != nil {
		log.Printf("Error closing writer for %s: %v", c.addr, err)
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
