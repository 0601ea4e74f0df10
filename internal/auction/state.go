package auction

import "sync"

// Phase is where a key sits in the auction lifecycle.
type Phase int

const (
	PhaseAbsent Phase = iota
	PhasePending
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCompleted:
		return "completed"
	default:
		return "absent"
	}
}

// State holds the dedup registries and the Init single-flight flag. One
// State is owned by a Coordinator; pass the same *State to several
// coordinators to share dedup between them.
type State struct {
	mu         sync.Mutex
	pending    map[string]ticket
	completed  map[string]Key
	requesting bool
	seq        uint64
}

// ticket marks one pending request. A reset drops the ticket, so a request
// that was abandoned cannot later complete or release a newer one.
type ticket struct {
	key Key
	seq uint64
}

func NewState() *State {
	return &State{
		pending:   make(map[string]ticket),
		completed: make(map[string]Key),
	}
}

// Phase reports the current lifecycle phase of k.
func (s *State) Phase(k Key) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked(k)
}

func (s *State) phaseLocked(k Key) Phase {
	id := k.String()
	if _, ok := s.completed[id]; ok {
		return PhaseCompleted
	}
	if _, ok := s.pending[id]; ok {
		return PhasePending
	}
	return PhaseAbsent
}

// acquire moves k from absent to pending, or reports why it cannot.
func (s *State) acquire(k Key) (ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phaseLocked(k) {
	case PhaseCompleted:
		return ticket{}, ErrAlreadyCompleted
	case PhasePending:
		return ticket{}, ErrAlreadyPending
	}
	s.seq++
	t := ticket{key: k, seq: s.seq}
	s.pending[k.String()] = t
	return t, nil
}

// complete moves the ticket's key from pending to completed. It reports
// false when the ticket was dropped by a reset in the meantime.
func (s *State) complete(t ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := t.key.String()
	if cur, ok := s.pending[id]; !ok || cur.seq != t.seq {
		return false
	}
	delete(s.pending, id)
	s.completed[id] = t.key
	return true
}

// release returns a failed pending key to absent so it can be retried.
func (s *State) release(t ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := t.key.String()
	if cur, ok := s.pending[id]; ok && cur.seq == t.seq {
		delete(s.pending, id)
	}
}

func (s *State) beginInit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requesting {
		return false
	}
	s.requesting = true
	return true
}

func (s *State) endInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requesting = false
}

// Reset forgets k entirely, whatever its phase. A pending request keeps
// running but its outcome is no longer recorded.
func (s *State) Reset(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := k.String()
	delete(s.pending, id)
	delete(s.completed, id)
}

// ResetPublisher forgets every key for publisher+domain and returns how
// many entries were dropped.
func (s *State) ResetPublisher(publisher, domain string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.pending {
		if t.key.Publisher == publisher && t.key.Domain == domain {
			delete(s.pending, id)
			n++
		}
	}
	for id, k := range s.completed {
		if k.Publisher == publisher && k.Domain == domain {
			delete(s.completed, id)
			n++
		}
	}
	return n
}

// Counts returns the registry sizes.
func (s *State) Counts() (pending, completed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.completed)
}
