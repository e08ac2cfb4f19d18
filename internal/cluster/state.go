package cluster

import "github.com/alvarosanz/loadit/internal/loaditerr"

// WorkerState is one worker process's lifecycle state, per spec.md §4.G.
type WorkerState int

const (
	WorkerIdle WorkerState = iota
	WorkerServing
	WorkerReporting
	WorkerShutdown
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerServing:
		return "serving"
	case WorkerReporting:
		return "reporting"
	case WorkerShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

var workerTransitions = map[WorkerState]map[WorkerState]bool{
	WorkerIdle:      {WorkerServing: true, WorkerShutdown: true},
	WorkerServing:   {WorkerReporting: true},
	WorkerReporting: {WorkerIdle: true, WorkerShutdown: true},
}

// WorkerFSM tracks a single worker's current state and rejects illegal
// transitions: Idle -> Serving(req) -> Reporting -> Idle, terminal Shutdown.
type WorkerFSM struct {
	state WorkerState
}

// NewWorkerFSM starts a worker in the Idle state.
func NewWorkerFSM() *WorkerFSM { return &WorkerFSM{state: WorkerIdle} }

// State returns the current state.
func (f *WorkerFSM) State() WorkerState { return f.state }

// Transition moves to next, or returns a Protocol error if the move is
// illegal from the current state.
func (f *WorkerFSM) Transition(next WorkerState) error {
	if f.state == WorkerShutdown {
		return loaditerr.New(loaditerr.KindProtocol, "worker is shut down")
	}
	if !workerTransitions[f.state][next] {
		return loaditerr.Newf(loaditerr.KindProtocol, "illegal worker transition %s -> %s", f.state, next)
	}
	f.state = next
	return nil
}

// RequestState is one client request's lifecycle state, per spec.md §4.G.
type RequestState int

const (
	RequestReceived RequestState = iota
	RequestAuthorized
	RequestLocalHandled
	RequestRedirected
	RequestWorkerReceived
	RequestWorkerExecuted
	RequestReleased
)

func (s RequestState) String() string {
	switch s {
	case RequestReceived:
		return "received"
	case RequestAuthorized:
		return "authorized"
	case RequestLocalHandled:
		return "local_handled"
	case RequestRedirected:
		return "redirected"
	case RequestWorkerReceived:
		return "worker_received"
	case RequestWorkerExecuted:
		return "worker_executed"
	case RequestReleased:
		return "released"
	default:
		return "unknown"
	}
}

var requestTransitions = map[RequestState]map[RequestState]bool{
	RequestReceived:       {RequestAuthorized: true},
	RequestAuthorized:     {RequestLocalHandled: true, RequestRedirected: true},
	RequestRedirected:     {RequestWorkerReceived: true},
	RequestWorkerReceived: {RequestWorkerExecuted: true},
	RequestWorkerExecuted: {RequestReleased: true},
}

// RequestFSM tracks one request's progress through central and (if
// redirected) a worker: Received -> Authorized -> {LocalHandled |
// Redirected -> WorkerReceived -> WorkerExecuted -> Released}.
type RequestFSM struct {
	state RequestState
}

// NewRequestFSM starts a request in the Received state.
func NewRequestFSM() *RequestFSM { return &RequestFSM{state: RequestReceived} }

// State returns the current state.
func (f *RequestFSM) State() RequestState { return f.state }

// Terminal reports whether no further transition is expected.
func (f *RequestFSM) Terminal() bool {
	return f.state == RequestLocalHandled || f.state == RequestReleased
}

// Transition moves to next, or returns a Protocol error if the move is
// illegal from the current state.
func (f *RequestFSM) Transition(next RequestState) error {
	if !requestTransitions[f.state][next] {
		return loaditerr.Newf(loaditerr.KindProtocol, "illegal request transition %s -> %s", f.state, next)
	}
	f.state = next
	return nil
}
