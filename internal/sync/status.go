package sync

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const statusEventBufferSize = 16

// BackendStatus is the latest known state of one backend.
type BackendStatus struct {
	Backend   string      `json:"backend"`
	State     EngineState `json:"state"`
	PassID    string      `json:"passId,omitempty"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// StatusEvent is broadcast on every state transition.
type StatusEvent struct {
	Backend string        `json:"backend"`
	Status  BackendStatus `json:"status"`
}

// Status tracks per-backend engine state and fans transitions out to subscribers.
type Status struct {
	clock    clockwork.Clock
	backends map[string]*BackendStatus
	mu       sync.RWMutex

	eventSubs []chan *StatusEvent
	eventMu   sync.RWMutex
}

func NewStatus(clock clockwork.Clock) *Status {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Status{
		clock:     clock,
		backends:  make(map[string]*BackendStatus),
		eventSubs: make([]chan *StatusEvent, 0),
	}
}

// Subscribe returns a channel receiving status events. Slow readers miss events.
func (s *Status) Subscribe() <-chan *StatusEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *StatusEvent, statusEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

func (s *Status) Unsubscribe(ch <-chan *StatusEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

func (s *Status) broadcastEvent(status BackendStatus) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	event := &StatusEvent{Backend: status.Backend, Status: status}
	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// full, skip rather than block the pass
		}
	}
}

func (s *Status) getOrCreate(backend string) *BackendStatus {
	if st, ok := s.backends[backend]; ok {
		return st
	}
	st := &BackendStatus{Backend: backend, State: StateIdle}
	s.backends[backend] = st
	return st
}

// SetState records a transition. A nil err clears the previous error.
func (s *Status) SetState(backend, passID string, state EngineState, err error) {
	s.mu.Lock()
	st := s.getOrCreate(backend)
	st.State = state
	st.PassID = passID
	st.Error = ""
	if err != nil {
		st.Error = err.Error()
	}
	st.UpdatedAt = s.clock.Now()
	snapshot := *st
	s.mu.Unlock()

	s.broadcastEvent(snapshot)
}

func (s *Status) Get(backend string) (BackendStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.backends[backend]
	if !ok {
		return BackendStatus{}, false
	}
	return *st, true
}

// All returns copies of every backend status, sorted by backend id.
func (s *Status) All() []BackendStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BackendStatus, 0, len(s.backends))
	for _, st := range s.backends {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

func (s *Status) Close() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for _, sub := range s.eventSubs {
		close(sub)
	}
	s.eventSubs = make([]chan *StatusEvent, 0)
}
