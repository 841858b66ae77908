// Package store holds a client's in-memory collection of consultation
// requests, keyed by id, with a dispatch-based mutation API. Every client
// process owns exactly one Store; synchronization with other clients happens
// over the wire, never through shared memory.
package store

import (
	"sync"

	"github.com/shonalidesh/agrilink/pkg/consultation"
)

// Action is a request-collection mutation. The four concrete actions are the
// complete mutation surface; all of them are idempotent.
type Action interface {
	apply(s *state) bool
}

// SetAll replaces the entire collection. Used by the pull fetcher.
type SetAll struct {
	Requests []consultation.Request
}

// Upsert inserts the request if its id is absent and does nothing otherwise.
// It never updates an existing entry; status changes go through UpdateStatus.
type Upsert struct {
	Request consultation.Request
}

// UpdateStatus replaces only the status field of the matching entry. No-op
// if the id is absent.
type UpdateStatus struct {
	ID     string
	Status consultation.Status
}

// Remove deletes the entry if present.
type Remove struct {
	ID string
}

type state struct {
	byID  map[string]consultation.Request
	order []string // newest first
}

func (a SetAll) apply(s *state) bool {
	s.byID = make(map[string]consultation.Request, len(a.Requests))
	s.order = s.order[:0]
	for _, req := range a.Requests {
		if _, dup := s.byID[req.ID]; dup {
			continue
		}
		s.byID[req.ID] = req
		s.order = append(s.order, req.ID)
	}
	return true
}

func (a Upsert) apply(s *state) bool {
	if _, exists := s.byID[a.Request.ID]; exists {
		return false
	}
	s.byID[a.Request.ID] = a.Request
	s.order = append([]string{a.Request.ID}, s.order...)
	return true
}

func (a UpdateStatus) apply(s *state) bool {
	req, exists := s.byID[a.ID]
	if !exists || req.Status == a.Status {
		return false
	}
	req.Status = a.Status
	s.byID[a.ID] = req
	return true
}

func (a Remove) apply(s *state) bool {
	if _, exists := s.byID[a.ID]; !exists {
		return false
	}
	delete(s.byID, a.ID)
	for i, id := range s.order {
		if id == a.ID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Store is the local request collection. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	state     state
	observers []func()
}

// New creates an empty store.
func New() *Store {
	return &Store{state: state{byID: make(map[string]consultation.Request)}}
}

// Dispatch applies an action. Observers run synchronously when the action
// changed the collection, so a reconciliation pass completes before the next
// event is processed.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	changed := action.apply(&s.state)
	observers := s.observers
	s.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn()
		}
	}
}

// Get returns the request with the given id.
func (s *Store) Get(id string) (consultation.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.state.byID[id]
	return req, ok
}

// List returns the requests newest first. The slice is a copy.
func (s *Store) List() []consultation.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]consultation.Request, 0, len(s.state.order))
	for _, id := range s.state.order {
		out = append(out, s.state.byID[id])
	}
	return out
}

// Len returns the number of requests held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.byID)
}

// Observe registers a callback invoked after every state-changing dispatch.
// UIs use it to refresh their request list.
func (s *Store) Observe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}
