// Package server decides which connections are actively receiving broadcast
// traffic and which are parked in the waiting queue. The admissionController
// owns the occupancy counter and the FIFO queue; every slot acquisition and
// release flows through it under one mutex, so a freed slot and the promotion
// of the queue head form a single critical section.
package server

import "sync"

type sessionState int

const (
	stateConnecting sessionState = iota
	stateWaiting
	stateActive
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateWaiting:
		return "waiting"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// admissionDecision reports the outcome of an admission request. Position is
// the 1-based queue position at enqueue time and is only meaningful when
// admitted is false.
type admissionDecision struct {
	admitted bool
	position int
}

type admissionController struct {
	mu      sync.Mutex
	active  int
	waiting []*Client
}

func newAdmissionController() *admissionController {
	return &admissionController{}
}

// admit grants the session an active slot if occupancy allows, otherwise
// appends it to the waiting queue. The reported position is a snapshot; it is
// not updated as earlier waiters are promoted.
func (ac *admissionController) admit(c *Client) admissionDecision {
	maxActive := currentConfig().MaxActive

	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.active < maxActive {
		ac.active++
		c.slotHeld = true
		c.state = stateActive
		return admissionDecision{admitted: true}
	}

	ac.waiting = append(ac.waiting, c)
	c.state = stateWaiting
	return admissionDecision{position: len(ac.waiting)}
}

// release frees the slot held by a closing active session and promotes the
// head of the waiting queue into it, all under one lock acquisition so no
// concurrent admission can slip between the two. It returns the promoted
// session, or nil if the queue was empty. Sessions that never held a slot
// are a no-op; a slot is never double-freed.
func (ac *admissionController) release(c *Client) *Client {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if !c.slotHeld {
		return nil
	}
	c.slotHeld = false
	c.state = stateClosed
	ac.active--

	if len(ac.waiting) == 0 {
		return nil
	}

	next := ac.waiting[0]
	ac.waiting = ac.waiting[1:]
	ac.active++
	next.slotHeld = true
	next.state = stateActive
	return next
}

// removeWaiting deletes exactly the given session from the queue, wherever it
// sits, when a parked client gives up before being served. Occupancy is
// unchanged. Returns false if the session was not queued.
func (ac *admissionController) removeWaiting(c *Client) bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	for i, queued := range ac.waiting {
		if queued == c {
			ac.waiting = append(ac.waiting[:i], ac.waiting[i+1:]...)
			c.state = stateClosed
			return true
		}
	}
	return false
}

func (ac *admissionController) activeCount() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.active
}

func (ac *admissionController) waitingCount() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return len(ac.waiting)
}

func (ac *admissionController) stateOf(c *Client) sessionState {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return c.state
}
