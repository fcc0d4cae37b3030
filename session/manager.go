package session

import (
	"sort"
	"sync"

	"github.com/Reverse-Call-Center/agent-phone/types"
)

// Call is what the registry needs to know about a call session.
type Call interface {
	ID() string
	Snapshot() types.CallSession
}

// Registry is the table of call sessions. It holds at most one ringing
// incoming session and at most one live (ringing outgoing, active or held)
// session. Ended sessions stay listed until Remove so the UI can show them.
type Registry struct {
	mutex    sync.RWMutex
	calls    map[string]Call
	incoming string
	active   string
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]Call)}
}

// Register adds a new session into the slot for its direction. It fails
// with types.ErrBusy when that slot is taken and never queues.
func (r *Registry) Register(call Call, direction types.Direction) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.calls[call.ID()]; exists {
		return types.ErrBusy
	}

	switch direction {
	case types.DirectionIncoming:
		if r.incoming != "" {
			return types.ErrBusy
		}
		r.incoming = call.ID()
	case types.DirectionOutgoing:
		if r.active != "" {
			return types.ErrBusy
		}
		r.active = call.ID()
	default:
		return types.ErrInvalidState
	}

	r.calls[call.ID()] = call
	return nil
}

// Promote moves the incoming session into the live slot when it is answered.
func (r *Registry) Promote(callID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.incoming != callID {
		return types.ErrSessionNotFound
	}
	if r.active != "" {
		return types.ErrBusy
	}
	r.incoming = ""
	r.active = callID
	return nil
}

// Release frees whichever slot the session holds. The session itself stays
// retrievable until Remove.
func (r *Registry) Release(callID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.incoming == callID {
		r.incoming = ""
	}
	if r.active == callID {
		r.active = ""
	}
}

func (r *Registry) Remove(callID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.incoming == callID {
		r.incoming = ""
	}
	if r.active == callID {
		r.active = ""
	}
	delete(r.calls, callID)
}

func (r *Registry) Get(callID string) (Call, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	call, ok := r.calls[callID]
	return call, ok
}

func (r *Registry) ActiveSession() (Call, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.active == "" {
		return nil, false
	}
	return r.calls[r.active], true
}

func (r *Registry) IncomingSession() (Call, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.incoming == "" {
		return nil, false
	}
	return r.calls[r.incoming], true
}

// HasLive reports whether any session still occupies a slot.
func (r *Registry) HasLive() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.incoming != "" || r.active != ""
}

// List returns every registered session ordered by start time.
func (r *Registry) List() []Call {
	r.mutex.RLock()
	calls := make([]Call, 0, len(r.calls))
	for _, call := range r.calls {
		calls = append(calls, call)
	}
	r.mutex.RUnlock()

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].Snapshot().StartedAt.Before(calls[j].Snapshot().StartedAt)
	})
	return calls
}

// Snapshots returns a copy of every registered session.
func (r *Registry) Snapshots() []types.CallSession {
	calls := r.List()
	snaps := make([]types.CallSession, 0, len(calls))
	for _, call := range calls {
		snaps = append(snaps, call.Snapshot())
	}
	return snaps
}

func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.calls)
}
