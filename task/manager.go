package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"webdl/bundle"
	"webdl/config"
	"webdl/progress"
)

var (
	ErrNotReady   = errors.New("task is not finished yet")
	ErrTaskFailed = errors.New("task failed")
)

// ItemStatus is the per-item state reported by the fetcher.
type ItemStatus string

const (
	ItemDownloading ItemStatus = "downloading"
	ItemFinished    ItemStatus = "finished"
)

// ItemProgress is one low-level progress report for a single media item.
type ItemProgress struct {
	Status   ItemStatus
	Index    int    // one-based position in the collection, 0 if unknown
	Speed    string // human readable, empty if unknown
	Filename string
}

// Fetcher downloads url into dir, calling onProgress zero or more times.
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error
}

// Prober counts the items behind a collection url without downloading.
type Prober interface {
	Probe(ctx context.Context, url string) (int, error)
}

// Publisher receives task events.
type Publisher interface {
	Publish(ev progress.Event)
}

// Manager owns the registry's workers: one goroutine per submitted task.
type Manager struct {
	cfg            *config.Config
	registry       *Registry
	fetcher        Fetcher
	prober         Prober
	events         Publisher
	workspace      Workspace
	concurrencySem chan struct{} // nil when unbounded

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

func NewManager(cfg *config.Config, reg *Registry, fetcher Fetcher, prober Prober, events Publisher) (*Manager, error) {
	if reg == nil || fetcher == nil || events == nil {
		return nil, fmt.Errorf("task manager needs a registry, a fetcher and a publisher")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		registry:  reg,
		fetcher:   fetcher,
		prober:    prober,
		events:    events,
		workspace: TempWorkspace{Root: cfg.WorkRoot},
		ctx:       ctx,
		cancel:    cancel,
		handles:   make(map[string]context.CancelFunc),
	}
	if cfg.MaxConcurrency > 0 {
		m.concurrencySem = make(chan struct{}, cfg.MaxConcurrency)
	}
	return m, nil
}

// Submit registers a task and starts its worker. It never waits for the download.
func (m *Manager) Submit(req Request) State {
	t := m.registry.Create(req)
	submitted := t.Snapshot()

	taskCtx, cancel := context.WithCancel(m.ctx)
	m.mu.Lock()
	m.handles[t.ID()] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(t.ID())
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Task %s worker panicked: %v", t.ID(), r)
				m.fail(t.ID(), fmt.Sprintf("internal error: %v", r))
			}
		}()
		m.run(taskCtx, t.ID(), req)
	}()

	log.Printf("Task %s submitted for %s", t.ID(), req.URL)
	return submitted
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	cancel, ok := m.handles[id]
	delete(m.handles, id)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Active returns how many workers are still running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

func (m *Manager) run(ctx context.Context, id string, req Request) {
	if m.concurrencySem != nil {
		select {
		case m.concurrencySem <- struct{}{}:
			defer func() { <-m.concurrencySem }()
		case <-ctx.Done():
			m.fail(id, "download was abandoned before it started")
			return
		}
	}
	m.download(ctx, id, req)
}

func (m *Manager) Get(id string) (State, error) {
	t, err := m.registry.Get(id)
	if err != nil {
		return State{}, err
	}
	return t.Snapshot(), nil
}

func (m *Manager) List() []State {
	return m.registry.List()
}

// Result packages a completed task's files for delivery. The caller must
// Close the returned bundle.
func (m *Manager) Result(id string) (*bundle.Bundle, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case StatusCompleted:
	case StatusError:
		return nil, fmt.Errorf("%w: %s", ErrTaskFailed, s.Error)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotReady, s.Status)
	}
	return bundle.Build(s.WorkDir, s.Files)
}

// Shutdown waits for running workers. When ctx expires first, the workers are
// cancelled and ctx's error is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		log.Printf("Cancelling %d unfinished downloads", m.Active())
		m.cancel()
		<-done
		return ctx.Err()
	}
}
