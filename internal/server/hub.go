// Package server coordinates admission, message broadcast, and connection
// cleanup for the RelayRoom relay via the Hub type.
package server

import (
	"context"
	"log"
	"math/rand/v2"
	"sync"
	"time"
)

// Hub manages all WebSocket sessions and handles message broadcasting. Every
// admission decision, promotion, and membership change is processed on its
// single event loop, so a freed slot and the promotion that fills it can
// never be interleaved with another session's admission.
type Hub struct {
	// clients holds only active sessions, the broadcast membership set.
	clients map[*Client]bool
	// sessions holds every live session, active or waiting, for shutdown.
	sessions   map[*Client]bool
	admission  *admissionController
	limiters   *messageLimiter
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary
// channels, the admission controller, and the per-identity message limiter.
// The returned Hub is ready to manage WebSocket sessions.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		sessions:   make(map[*Client]bool),
		admission:  newAdmissionController(),
		limiters:   newMessageLimiter(),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new sessions with the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering sessions from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// GetBroadcastChan returns the channel used for broadcasting messages to all
// active sessions. This channel is write-only from the caller's perspective.
func (h *Hub) GetBroadcastChan() chan<- BroadcastMessage {
	return h.broadcast
}

// ActiveCount reports how many sessions currently hold an active slot.
func (h *Hub) ActiveCount() int {
	return h.admission.activeCount()
}

// WaitingCount reports how many sessions are parked in the queue.
func (h *Hub) WaitingCount() int {
	return h.admission.waitingCount()
}

// sendEvent queues an event for a single session without requiring broadcast
// membership, so waiting sessions can receive their queue position. The send
// is non-blocking; a full buffer drops the event.
func (h *Hub) sendEvent(client *Client, payload []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling session registration,
// unregistration, and message broadcasting. This method should be called in a
// separate goroutine as it runs indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.processRegister(client)
			h.startPumps(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case broadcastMsg := <-h.broadcast:
			h.handleBroadcast(broadcastMsg)
		}
	}
}

// processRegister runs the admission decision for a verified session and
// notifies it of the outcome: an accepted event with its identity, or a
// waiting event with its 1-based queue position at enqueue time.
func (h *Hub) processRegister(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.sessions[client] = true
	h.mutex.Unlock()

	decision := h.admission.admit(client)
	if !decision.admitted {
		h.sendEvent(client, waitingEvent(decision.position))
		log.Printf("Session %s (%s) queued at position %d", client.id, client.addr, decision.position)
		return
	}

	h.mutex.Lock()
	h.clients[client] = true
	activeCount := len(h.clients)
	h.mutex.Unlock()

	h.sendEvent(client, acceptedEvent(client.identity))
	log.Printf("Session %s (%s) admitted as %q. Active sessions: %d", client.id, client.addr, client.identity, activeCount)

	h.maybeBotPhrase()
}

func (h *Hub) startPumps(client *Client) {
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient tears down a session in any state: waiting sessions leave the
// queue, active sessions free their slot and trigger promotion of the queue
// head within the same admission critical section. Safe to call twice for
// the same session; the second call is a no-op.
func (h *Hub) removeClient(client *Client) {
	if client == nil {
		return
	}

	wasWaiting := h.admission.removeWaiting(client)
	var promoted *Client
	if !wasWaiting {
		promoted = h.admission.release(client)
	}

	h.mutex.Lock()
	delete(h.clients, client)
	delete(h.sessions, client)
	alreadyClosed := client.closed
	client.closed = true
	h.mutex.Unlock()

	if !alreadyClosed {
		close(client.send)
		h.limiters.forget(client.identity)
		log.Printf("Session %s (%s) closed", client.id, client.addr)
	}

	if promoted != nil {
		h.promote(promoted)
	}
}

// promote moves the former queue head into the broadcast membership and tells
// it that it is now active. Its pumps have been running since registration.
func (h *Hub) promote(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	activeCount := len(h.clients)
	h.mutex.Unlock()

	h.sendEvent(client, acceptedEvent(client.identity))
	log.Printf("Session %s (%s) promoted from queue as %q. Active sessions: %d", client.id, client.addr, client.identity, activeCount)

	h.maybeBotPhrase()
}

// maybeBotPhrase injects one configured phrase into the broadcast with the
// configured probability, as the reserved "bot" sender.
func (h *Hub) maybeBotPhrase() {
	cfg := currentConfig()
	if cfg.Bot.Probability <= 0 || len(cfg.Bot.Phrases) == 0 {
		return
	}
	if rand.Float64() >= cfg.Bot.Probability {
		return
	}

	phrase := cfg.Bot.Phrases[rand.IntN(len(cfg.Bot.Phrases))]
	h.handleBroadcast(BroadcastMessage{Payload: chatEvent(phrase, BotSender)})
}

var hub = NewHub()

// handleBroadcast delivers a message to every active session, the sender
// included. Delivery is best-effort per recipient: a failed recipient is
// removed (freeing its slot) without affecting the rest of the fan-out, and
// nothing is reported back to the publisher.
func (h *Hub) handleBroadcast(broadcastMsg BroadcastMessage) {
	clients := h.getClientSnapshot()

	log.Printf("Broadcasting message to %d sessions", len(clients))

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, broadcastMsg.Payload) {
			failed = append(failed, client)
		}
	}

	for _, client := range failed {
		log.Printf("Session %s (%s) removed due to full send buffer", client.id, client.addr)
		h.removeClient(client)
	}
}

// getClientSnapshot returns a thread-safe snapshot of the active sessions.
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients gracefully closes every live session, waiting ones included.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	sessions := make([]*Client, 0, len(h.sessions))
	for client := range h.sessions {
		sessions = append(sessions, client)
	}
	h.mutex.Unlock()

	for _, client := range sessions {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(sessions))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete. It returns after all client connections are closed and
// goroutines have finished, or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
