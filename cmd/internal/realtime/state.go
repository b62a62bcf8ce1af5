package realtime

import "fmt"

// ConnState is the lifecycle state of one chat connection.
//
//	Connecting -> Authenticating -> ResolvingPeer -> Registered -> Closed
//
// Any non-closed state may fail straight to Closed.
type ConnState uint8

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateResolvingPeer
	StateRegistered
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateResolvingPeer:
		return "resolving_peer"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s ConnState) canTransition(to ConnState) bool {
	if s == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	return to == s+1
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From ConnState
	To   ConnState
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("realtime: illegal transition %s -> %s", e.From, e.To)
}
