package task

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task state change")
)

// Registry maps task ids to tasks. Entries are never evicted.
type Registry struct {
	tasks sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Create allocates a fresh pending task.
func (r *Registry) Create(req Request) *Task {
	for {
		id := shortuuid.New()
		t := &Task{id: id, state: State{
			ID:         id,
			URL:        req.URL,
			Quality:    req.Quality,
			Format:     req.Format,
			Status:     StatusPending,
			TotalCount: 1,
			CreatedAt:  time.Now(),
		}}
		if _, loaded := r.tasks.LoadOrStore(t.ID(), t); !loaded {
			return t
		}
	}
}

func (r *Registry) Get(id string) (*Task, error) {
	if val, ok := r.tasks.Load(id); ok {
		return val.(*Task), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns snapshots of every task, oldest first.
func (r *Registry) List() []State {
	var states []State
	r.tasks.Range(func(_, value interface{}) bool {
		states = append(states, value.(*Task).Snapshot())
		return true
	})
	sort.Slice(states, func(i, j int) bool {
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})
	return states
}

// Update applies fn to a copy of the task's state under the task's lock and
// commits the result only if fn succeeds and the invariants still hold.
func (r *Registry) Update(id string, fn func(*State) error) (State, error) {
	t, err := r.Get(id)
	if err != nil {
		return State{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.state
	next.Files = append([]string(nil), t.state.Files...)
	if err := fn(&next); err != nil {
		return t.state, err
	}
	if err := validate(t.state, next); err != nil {
		return t.state, err
	}
	t.state = next
	return next, nil
}

// IncrementCompleted bumps the completed item count, never past the total.
func (r *Registry) IncrementCompleted(id string) (State, error) {
	return r.Update(id, func(s *State) error {
		if s.CompletedCount < s.TotalCount {
			s.CompletedCount++
		}
		return nil
	})
}

func validate(prev, next State) error {
	switch {
	case next.ID != prev.ID:
		return fmt.Errorf("%w: id is immutable", ErrInvalidTransition)
	case !prev.Status.canMoveTo(next.Status):
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	case next.TotalCount < 1:
		return fmt.Errorf("%w: total count %d", ErrInvalidTransition, next.TotalCount)
	case next.CompletedCount > next.TotalCount:
		return fmt.Errorf("%w: completed %d exceeds total %d", ErrInvalidTransition, next.CompletedCount, next.TotalCount)
	case len(next.Files) > 0 && next.Status != StatusCompleted:
		return fmt.Errorf("%w: files recorded on a %s task", ErrInvalidTransition, next.Status)
	}
	return nil
}
