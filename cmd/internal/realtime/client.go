package realtime

import (
	"sync"

	"tuthub/cmd/identity"
)

// Client is one chat connection and its handshake state machine.
//
// Design notes:
//   - Send is NOT closed by the server to avoid panics from concurrent publishers.
//   - done is closed exactly once by Close; goroutines select on it to stop.
//   - self, peer and roomKey are set by state transitions, never directly.
type Client struct {
	ID   string
	Send chan []byte

	mu      sync.RWMutex
	state   ConnState
	self    identity.User
	peer    identity.User
	roomKey string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client in StateConnecting with a bounded send queue.
func NewClient(id string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:    id,
		Send:  make(chan []byte, sendQueueSize),
		state: StateConnecting,
		done:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Self is the authenticated caller; zero until StateResolvingPeer.
func (c *Client) Self() identity.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Peer is the resolved chat partner; zero until PeerResolved succeeds.
func (c *Client) Peer() identity.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peer
}

// RoomKey is the canonical room label; empty until the peer is resolved.
func (c *Client) RoomKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomKey
}

func (c *Client) transitionLocked(to ConnState) error {
	if !c.state.canTransition(to) {
		return TransitionError{From: c.state, To: to}
	}
	c.state = to
	return nil
}

// BeginAuth marks receipt of the connection request.
func (c *Client) BeginAuth() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StateAuthenticating)
}

// Authenticated records the caller identity.
func (c *Client) Authenticated(self identity.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transitionLocked(StateResolvingPeer); err != nil {
		return err
	}
	c.self = self
	return nil
}

// PeerResolved records the peer and derives the room key. The state stays
// ResolvingPeer until Registered is called.
func (c *Client) PeerResolved(peer identity.User) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateResolvingPeer {
		return "", TransitionError{From: c.state, To: StateRegistered}
	}
	c.peer = peer
	c.roomKey = RoomKey(c.self.ID, peer.ID)
	return c.roomKey, nil
}

// Registered marks successful directory registration.
func (c *Client) Registered() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomKey == "" {
		return TransitionError{From: c.state, To: StateRegistered}
	}
	return c.transitionLocked(StateRegistered)
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close moves the client to StateClosed and signals its goroutines (idempotent).
// It does NOT close Send to keep publishing safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)
	})
}
