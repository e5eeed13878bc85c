// Comanda - Offline-Resilient Ordering Client for Restaurant Floor Staff
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/comanda

// Package netmon tracks network connectivity and fans state transitions
// out to subscribers. The sync manager subscribes to trigger a drain on
// every offline-to-online transition.
package netmon

import (
	"sync"

	"github.com/tomtom215/comanda/internal/logging"
	"github.com/tomtom215/comanda/internal/metrics"
)

// State is a connectivity snapshot.
type State struct {
	// Connected reports whether a network interface is up.
	Connected bool `json:"connected"`

	// InternetReachable reports whether the backend answered the last
	// reachability probe. Nil means not yet determined.
	InternetReachable *bool `json:"internet_reachable"`
}

// Online resolves the snapshot to a single bool. Unknown reachability
// counts as online: a request is cheaper than stalling the floor on a
// probe that has not run yet.
func (s State) Online() bool {
	if !s.Connected {
		return false
	}
	return s.InternetReachable == nil || *s.InternetReachable
}

// Listener receives connectivity snapshots. Called from the notifier's
// goroutine; implementations must not block.
type Listener func(State)

// Monitor is the read side of connectivity tracking.
type Monitor interface {
	// State returns the current snapshot.
	State() State

	// Subscribe registers a listener for state changes and returns a
	// function that removes it. The listener fires only on changes of
	// the resolved Online() value.
	Subscribe(l Listener) (unsubscribe func())
}

// Notifier is the push-style Monitor implementation. Platform hooks,
// the reachability prober and the realtime event listener all feed it;
// it deduplicates and fans out only resolved online/offline flips.
type Notifier struct {
	mu        sync.RWMutex
	state     State
	nextID    int
	listeners map[int]Listener
}

// NewNotifier starts in the optimistic state: connected, reachability
// unknown.
func NewNotifier() *Notifier {
	n := &Notifier{
		state:     State{Connected: true},
		listeners: make(map[int]Listener),
	}
	metrics.NetworkOnline.Set(1)
	return n
}

// State returns the current snapshot.
func (n *Notifier) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Online is shorthand for State().Online().
func (n *Notifier) Online() bool {
	return n.State().Online()
}

// Subscribe implements Monitor.
func (n *Notifier) Subscribe(l Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.listeners[id] = l

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// SetState replaces the snapshot. Listeners fire only when the resolved
// online value actually flips.
func (n *Notifier) SetState(s State) {
	n.apply(func(st *State) { *st = s })
}

// SetConnected updates the interface flag, keeping reachability as is.
func (n *Notifier) SetConnected(connected bool) {
	n.apply(func(st *State) { st.Connected = connected })
}

// SetReachable records the result of a backend reachability check.
func (n *Notifier) SetReachable(reachable bool) {
	n.apply(func(st *State) { st.InternetReachable = &reachable })
}

// apply runs one read-modify-write under a single lock. The prober and
// the event listener update different fields concurrently; mutating a
// snapshot taken under an earlier lock would let one overwrite the
// other.
func (n *Notifier) apply(mutate func(*State)) {
	n.mu.Lock()
	wasOnline := n.state.Online()
	mutate(&n.state)
	s := n.state
	nowOnline := s.Online()

	var toNotify []Listener
	if wasOnline != nowOnline {
		toNotify = make([]Listener, 0, len(n.listeners))
		for _, l := range n.listeners {
			toNotify = append(toNotify, l)
		}
	}
	n.mu.Unlock()

	if wasOnline == nowOnline {
		return
	}

	if nowOnline {
		logging.Info().Msg("Network transitioned to online")
		metrics.NetworkOnline.Set(1)
		metrics.NetworkTransitions.WithLabelValues("online").Inc()
	} else {
		logging.Warn().Msg("Network transitioned to offline")
		metrics.NetworkOnline.Set(0)
		metrics.NetworkTransitions.WithLabelValues("offline").Inc()
	}

	for _, l := range toNotify {
		l(s)
	}
}
