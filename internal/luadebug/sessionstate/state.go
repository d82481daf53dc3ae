package sessionstate

import "fmt"

// Phase is the lifecycle position of one debug session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	// PhaseInitializing waits for the IDE to report the Lua project root.
	PhaseInitializing
	PhaseServerBinding
	// PhaseAwaitingConnections has a listener but not yet both debuggee peers.
	PhaseAwaitingConnections
	PhaseRunning
	PhaseStopped
	PhaseDisconnecting
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseServerBinding:
		return "server-binding"
	case PhaseAwaitingConnections:
		return "awaiting-connections"
	case PhaseRunning:
		return "running"
	case PhaseStopped:
		return "stopped"
	case PhaseDisconnecting:
		return "disconnecting"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var transitions = map[Phase][]Phase{
	PhaseUninitialized:       {PhaseInitializing},
	PhaseInitializing:        {PhaseServerBinding},
	PhaseServerBinding:       {PhaseAwaitingConnections, PhaseInitializing},
	PhaseAwaitingConnections: {PhaseRunning},
	PhaseRunning:             {PhaseStopped, PhaseAwaitingConnections},
	PhaseStopped:             {PhaseRunning, PhaseAwaitingConnections},
}

// CanTransition reports whether next may follow p. Disconnecting is reachable
// from every phase before Terminated, and Terminated only from Disconnecting.
func (p Phase) CanTransition(next Phase) bool {
	switch {
	case p == PhaseTerminated:
		return false
	case next == PhaseDisconnecting:
		return p != PhaseDisconnecting
	case next == PhaseTerminated:
		return p == PhaseDisconnecting
	}
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
