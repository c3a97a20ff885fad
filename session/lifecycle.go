package session

import (
	"sync"

	"github.com/stridelab/traincore/api"
)

// Observer tracks OS-reported process lifecycle transitions and fans them
// out to subscribers in subscription order. It is the in-process
// implementation of api.Lifecycle; platform adapters feed it via Publish.
type Observer struct {
	// dispatchMu serializes Publish so transitions reach listeners one
	// at a time in arrival order.
	dispatchMu sync.Mutex

	mu     sync.Mutex
	state  api.LifecycleState
	nextID uint64
	subs   []*subscription
}

type subscription struct {
	id uint64
	fn api.Listener
}

var _ api.Lifecycle = (*Observer)(nil)

// NewObserver returns an observer starting in the active state.
func NewObserver() *Observer {
	return &Observer{state: api.StateActive}
}

// Subscribe registers fn for future transitions. The returned function
// removes the registration; calling it more than once is a no-op.
func (o *Observer) Subscribe(fn api.Listener) func() {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, &subscription{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			for i, s := range o.subs {
				if s.id == id {
					o.subs = append(o.subs[:i], o.subs[i+1:]...)
					break
				}
			}
			o.mu.Unlock()
		})
	}
}

// CurrentState returns the last published state.
func (o *Observer) CurrentState() api.LifecycleState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Publish records a transition and delivers it to every currently
// subscribed listener. Duplicate consecutive states are dropped. A
// panicking listener is logged and does not stop delivery to the rest.
func (o *Observer) Publish(state api.LifecycleState) {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	o.mu.Lock()
	if state == o.state {
		o.mu.Unlock()
		return
	}
	prev := o.state
	o.state = state
	subs := make([]*subscription, len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()

	internalLogger.debugf("lifecycle %s -> %s, %d listeners", prev, state, len(subs))
	for _, s := range subs {
		o.dispatch(s, state)
	}
}

func (o *Observer) dispatch(s *subscription, state api.LifecycleState) {
	defer func() {
		if r := recover(); r != nil {
			internalLogger.errorf("lifecycle listener %d failed on %s: %v", s.id, state, r)
		}
	}()
	s.fn(state)
}
