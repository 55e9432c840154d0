// webdl/task/manager_test.go
package task

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"webdl/config"
	"webdl/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFetcher is a mock implementation of the Fetcher interface for testing.
type mockFetcher struct {
	fetchFunc func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error
}

func (m *mockFetcher) Fetch(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, url, dir, opts, onProgress)
	}
	return os.WriteFile(filepath.Join(dir, "Video.mp4"), []byte("video"), 0o644)
}

type mockProber struct {
	count int
	err   error
	calls int
	mu    sync.Mutex
}

func (m *mockProber) Probe(ctx context.Context, url string) (int, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.count, m.err
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Publish(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) For(taskID string) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, ev := range r.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		WorkRoot:     t.TempDir(),
		ProbeTimeout: time.Second,
		AudioCodec:   "mp3",
		AudioQuality: "192K",
	}
}

func newTestManager(t *testing.T, cfg *config.Config, f Fetcher, p Prober) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	mgr, err := NewManager(cfg, NewRegistry(), f, p, rec)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return mgr, rec
}

func waitFinished(t *testing.T, mgr *Manager, id string) State {
	t.Helper()
	var s State
	require.Eventually(t, func() bool {
		var err error
		s, err = mgr.Get(id)
		return err == nil && s.Status.IsFinished()
	}, 5*time.Second, 5*time.Millisecond)
	return s
}

func TestTaskManager_Submit(t *testing.T) {
	block := make(chan struct{})
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		<-block
		return os.WriteFile(filepath.Join(dir, "v.mp4"), []byte("v"), 0o644)
	}}
	mgr, _ := newTestManager(t, testConfig(t), fetcher, nil)

	s := mgr.Submit(Request{URL: "https://example.com/watch?v=1", Quality: "1", Format: "1"})
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusPending, s.Status)

	_, err := mgr.Result(s.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	close(block)
	final := waitFinished(t, mgr, s.ID)
	assert.Equal(t, StatusCompleted, final.Status)
}

func TestTaskManager_SingleDownload(t *testing.T) {
	var gotOpts FetchOptions
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		gotOpts = opts
		onProgress(ItemProgress{Status: ItemDownloading, Speed: "1.2MiB/s"})
		require.NoError(t, os.WriteFile(filepath.Join(dir, "My Video.mp4"), []byte("video-bytes"), 0o644))
		// Empty and temporary files are not results.
		require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.mp4"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x.mp4.part"), []byte("p"), 0o644))
		onProgress(ItemProgress{Status: ItemFinished, Filename: filepath.Join(dir, "My Video.mp4")})
		return nil
	}}
	prober := &mockProber{count: 7}
	mgr, rec := newTestManager(t, testConfig(t), fetcher, prober)

	s := mgr.Submit(Request{URL: "https://example.com/watch?v=1", Quality: "2", Format: "1"})
	final := waitFinished(t, mgr, s.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, []string{"My Video.mp4"}, final.Files)
	assert.Equal(t, 1, final.TotalCount)
	assert.Equal(t, 1, final.CompletedCount)
	assert.Equal(t, 0, prober.calls, "single items are not probed")
	assert.Equal(t, FormatBest720, gotOpts.Format)
	assert.Equal(t, SingleTemplate, gotOpts.OutputTemplate)

	events := rec.For(s.ID)
	require.Len(t, events, 3)
	assert.Equal(t, progress.Event{TaskID: s.ID, Status: progress.StatusDownloading, Progress: "1/1", Speed: "1.2MiB/s"}, events[0])
	assert.Equal(t, progress.Event{TaskID: s.ID, Status: progress.StatusFinished, Filename: "My Video.mp4", Completed: "1/1"}, events[1])
	assert.Equal(t, progress.Event{TaskID: s.ID, Status: progress.StatusCompleted, FileCount: 1}, events[2])

	b, err := mgr.Result(s.ID)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "My Video.mp4", b.Name)
	data, err := os.ReadFile(b.Path)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))
}

func TestTaskManager_PlaylistDownload(t *testing.T) {
	names := []string{"001 - A.mp4", "002 - B.mp4", "003 - C.mp4"}
	var gotOpts FetchOptions
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		gotOpts = opts
		for i, name := range names {
			onProgress(ItemProgress{Status: ItemDownloading, Index: i + 1})
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
			onProgress(ItemProgress{Status: ItemFinished, Index: i + 1, Filename: filepath.Join(dir, name)})
		}
		// A spurious extra finished report must not push the count past the total.
		onProgress(ItemProgress{Status: ItemFinished, Filename: names[2]})
		return nil
	}}
	prober := &mockProber{count: 3}
	mgr, rec := newTestManager(t, testConfig(t), fetcher, prober)

	s := mgr.Submit(Request{URL: "https://www.youtube.com/playlist?list=PL1", Quality: "3", Format: "2"})
	final := waitFinished(t, mgr, s.ID)

	require.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, names, final.Files)
	assert.Equal(t, 3, final.TotalCount)
	assert.Equal(t, 3, final.CompletedCount)
	assert.Equal(t, CollectionTemplate, gotOpts.OutputTemplate)
	assert.Equal(t, FormatBestAudio, gotOpts.Format)
	assert.True(t, gotOpts.ExtractAudio)

	events := rec.For(s.ID)
	require.Len(t, events, 8)
	assert.Equal(t, "1/3", events[0].Progress)
	assert.Equal(t, "1/3", events[1].Completed)
	assert.Equal(t, "2/3", events[2].Progress)
	assert.Equal(t, "3/3", events[5].Completed)
	assert.Equal(t, "3/3", events[6].Completed)
	assert.Equal(t, progress.StatusCompleted, events[7].Status)
	assert.Equal(t, 3, events[7].FileCount)

	b, err := mgr.Result(s.ID)
	require.NoError(t, err)
	defer b.Close()
	zr, err := zip.OpenReader(b.Path)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 3)
	for i, f := range zr.File {
		assert.Equal(t, names[i], f.Name)
	}
}

func TestTaskManager_ProbeFailureFallsBackToOne(t *testing.T) {
	prober := &mockProber{err: errors.New("network down")}
	mgr, rec := newTestManager(t, testConfig(t), &mockFetcher{}, prober)

	s := mgr.Submit(Request{URL: "https://example.com/watch?v=1&list=PL1", Format: "1"})
	final := waitFinished(t, mgr, s.ID)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, final.TotalCount)
	assert.Equal(t, 1, prober.calls)
	events := rec.For(s.ID)
	require.NotEmpty(t, events)
	assert.Equal(t, progress.StatusCompleted, events[len(events)-1].Status)
}

func TestTaskManager_FailedDownload(t *testing.T) {
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		onProgress(ItemProgress{Status: ItemDownloading})
		require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.mp4.part"), []byte("p"), 0o644))
		return errors.New("Unsupported URL: https://nope")
	}}
	mgr, rec := newTestManager(t, testConfig(t), fetcher, nil)

	s := mgr.Submit(Request{URL: "https://nope"})
	final := waitFinished(t, mgr, s.ID)

	assert.Equal(t, StatusError, final.Status)
	assert.Equal(t, "Unsupported URL: https://nope", final.Error)
	assert.Empty(t, final.Files)

	// Partial output is left for inspection.
	_, err := os.Stat(filepath.Join(final.WorkDir, "partial.mp4.part"))
	assert.NoError(t, err)

	events := rec.For(s.ID)
	require.Len(t, events, 2)
	assert.Equal(t, progress.StatusDownloading, events[0].Status)
	assert.Equal(t, progress.Event{TaskID: s.ID, Status: progress.StatusError, Error: "Unsupported URL: https://nope"}, events[1])

	_, err = mgr.Result(s.ID)
	assert.ErrorIs(t, err, ErrTaskFailed)
}

func TestTaskManager_NoFilesIsAnError(t *testing.T) {
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		return nil
	}}
	mgr, _ := newTestManager(t, testConfig(t), fetcher, nil)

	s := mgr.Submit(Request{URL: "https://example.com/v"})
	final := waitFinished(t, mgr, s.ID)
	assert.Equal(t, StatusError, final.Status)
	assert.Equal(t, "no files were downloaded", final.Error)
}

func TestTaskManager_PanicIsContained(t *testing.T) {
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		panic("collaborator exploded")
	}}
	mgr, _ := newTestManager(t, testConfig(t), fetcher, nil)

	s := mgr.Submit(Request{URL: "https://example.com/v"})
	final := waitFinished(t, mgr, s.ID)
	assert.Equal(t, StatusError, final.Status)
	assert.Contains(t, final.Error, "collaborator exploded")
}

func TestTaskManager_ConcurrentTasksAreIndependent(t *testing.T) {
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		for i := 0; i < 20; i++ {
			onProgress(ItemProgress{Status: ItemDownloading, Speed: url})
		}
		return os.WriteFile(filepath.Join(dir, "out.mp4"), []byte(url), 0o644)
	}}
	mgr, rec := newTestManager(t, testConfig(t), fetcher, nil)

	a := mgr.Submit(Request{URL: "https://example.com/a"})
	b := mgr.Submit(Request{URL: "https://example.com/b"})
	require.NotEqual(t, a.ID, b.ID)

	finalA := waitFinished(t, mgr, a.ID)
	finalB := waitFinished(t, mgr, b.ID)
	assert.NotEqual(t, finalA.WorkDir, finalB.WorkDir)

	for _, ev := range rec.For(a.ID) {
		if ev.Status == progress.StatusDownloading {
			assert.Equal(t, "https://example.com/a", ev.Speed)
		}
	}
	for _, ev := range rec.For(b.ID) {
		if ev.Status == progress.StatusDownloading {
			assert.Equal(t, "https://example.com/b", ev.Speed)
		}
	}
}

func TestTaskManager_Result(t *testing.T) {
	mgr, _ := newTestManager(t, testConfig(t), &mockFetcher{}, nil)

	_, err := mgr.Result("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	s := mgr.Submit(Request{URL: "https://example.com/v"})
	waitFinished(t, mgr, s.ID)
	b, err := mgr.Result(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Video.mp4", b.Name)
	require.NoError(t, b.Close())
}

func TestTaskManager_MaxConcurrency(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrency = 1
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		started <- struct{}{}
		<-release
		return os.WriteFile(filepath.Join(dir, "v.mp4"), []byte("v"), 0o644)
	}}
	mgr, _ := newTestManager(t, cfg, fetcher, nil)

	first := mgr.Submit(Request{URL: "https://example.com/1"})
	second := mgr.Submit(Request{URL: "https://example.com/2"})

	<-started
	// Only one worker holds the slot; the other task is still pending.
	time.Sleep(20 * time.Millisecond)
	statuses := map[Status]int{}
	for _, id := range []string{first.ID, second.ID} {
		s, err := mgr.Get(id)
		require.NoError(t, err)
		statuses[s.Status]++
	}
	assert.Equal(t, 1, statuses[StatusDownloading])
	assert.Equal(t, 1, statuses[StatusPending])

	close(release)
	assert.Equal(t, StatusCompleted, waitFinished(t, mgr, first.ID).Status)
	assert.Equal(t, StatusCompleted, waitFinished(t, mgr, second.ID).Status)
}

func TestTaskManager_ShutdownCancelsStragglers(t *testing.T) {
	fetcher := &mockFetcher{fetchFunc: func(ctx context.Context, url, dir string, opts FetchOptions, onProgress func(ItemProgress)) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	rec := &recorder{}
	mgr, err := NewManager(testConfig(t), NewRegistry(), fetcher, nil, rec)
	require.NoError(t, err)

	s := mgr.Submit(Request{URL: "https://example.com/slow"})
	require.Eventually(t, func() bool {
		st, _ := mgr.Get(s.ID)
		return st.Status == StatusDownloading
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mgr.Shutdown(ctx), context.DeadlineExceeded)

	final, err := mgr.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, final.Status)
	assert.Equal(t, 0, mgr.Active())
}
