package task

import (
	"sync"
	"time"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// IsFinished reports whether the status is terminal.
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusError
}

// canMoveTo encodes pending -> downloading -> {completed | error}. A pending
// task may fail directly when it is abandoned before its worker starts.
func (s Status) canMoveTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusDownloading || next == StatusError
	case StatusDownloading:
		return next.IsFinished()
	}
	return false
}

// Request is what a client submits.
type Request struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	Format  string `json:"format"`
}

// State is a point-in-time copy of a task.
type State struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Quality        string    `json:"quality"`
	Format         string    `json:"format"`
	Status         Status    `json:"status"`
	TotalCount     int       `json:"total_count"`
	CompletedCount int       `json:"completed_count"`
	Files          []string  `json:"files,omitempty"`
	WorkDir        string    `json:"-"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
}

// Task is a registry entry. All access goes through its lock.
type Task struct {
	id    string
	mu    sync.Mutex
	state State
}

// Snapshot returns a consistent copy of the task.
func (t *Task) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	s.Files = append([]string(nil), t.state.Files...)
	return s
}

// ID never changes after creation.
func (t *Task) ID() string {
	return t.id
}
