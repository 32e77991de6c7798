package types

import "fmt"

type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticating  SessionState = "authenticating"
	SessionAuthenticated   SessionState = "authenticated"
	SessionExpired         SessionState = "expired"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionUnauthenticated: {SessionAuthenticating},
	SessionAuthenticating:  {SessionAuthenticated, SessionUnauthenticated},
	SessionAuthenticated:   {SessionAuthenticated, SessionExpired},
	SessionExpired:         {SessionAuthenticating},
}

func (s SessionState) CanTransition(to SessionState) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the session to the next state or reports an illegal move.
func (s *Session) Transition(to SessionState) error {
	if !s.State.CanTransition(to) {
		return fmt.Errorf("illegal session transition %s -> %s", s.State, to)
	}
	s.State = to
	return nil
}

type RunState string

const (
	RunInit      RunState = "init"
	RunLoggingIn RunState = "logging_in"
	RunWalking   RunState = "walking"
	RunFiltering RunState = "filtering"
	RunFetching  RunState = "fetching"
	RunNotifying RunState = "notifying"
	RunDone      RunState = "done"
	RunFailed    RunState = "failed"
)

var runTransitions = map[RunState][]RunState{
	RunInit:      {RunLoggingIn, RunFailed},
	RunLoggingIn: {RunWalking, RunFailed},
	RunWalking:   {RunFiltering, RunNotifying, RunFailed},
	RunFiltering: {RunFetching, RunWalking, RunFailed},
	RunFetching:  {RunWalking, RunFailed},
	RunNotifying: {RunDone, RunFailed},
}

func (s RunState) CanTransition(to RunState) bool {
	for _, next := range runTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s RunState) Terminal() bool {
	return s == RunDone || s == RunFailed
}

// Transition records the move in the run history or reports an illegal move.
func (r *WorkflowRun) Transition(to RunState) error {
	if !r.State.CanTransition(to) {
		return fmt.Errorf("illegal run transition %s -> %s", r.State, to)
	}
	r.State = to
	r.Transitions = append(r.Transitions, to)
	return nil
}
