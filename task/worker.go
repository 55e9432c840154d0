package task

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"webdl/progress"
)

// Leftovers yt-dlp may leave behind next to finished files.
var skippedExtensions = []string{".part", ".ytdl"}

// download drives one task from pending to a terminal status.
func (m *Manager) download(ctx context.Context, id string, req Request) {
	if _, err := m.registry.Update(id, func(s *State) error {
		s.Status = StatusDownloading
		s.StartedAt = time.Now()
		return nil
	}); err != nil {
		log.Printf("Task %s could not start: %v", id, err)
		return
	}

	dir, err := m.workspace.Create(id)
	if err != nil {
		m.fail(id, err.Error())
		return
	}

	collection := IsCollection(req.URL)
	total := 1
	if collection {
		total = m.probeCount(ctx, id, req.URL)
	}

	if _, err := m.registry.Update(id, func(s *State) error {
		s.WorkDir = dir
		s.TotalCount = total
		return nil
	}); err != nil {
		m.fail(id, err.Error())
		return
	}

	opts := BuildFetchOptions(req, collection, m.cfg.AudioCodec, m.cfg.AudioQuality)
	if m.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DownloadTimeout)
		defer cancel()
	}

	log.Printf("Downloading task %s (%d item(s), format %q) into %s", id, total, opts.Format, dir)
	err = m.fetcher.Fetch(ctx, req.URL, dir, opts, func(p ItemProgress) {
		m.onItemProgress(id, total, p)
	})
	if err != nil {
		log.Printf("Task %s failed: %v", id, err)
		m.fail(id, err.Error())
		return
	}

	files, err := listFiles(dir)
	if err != nil {
		m.fail(id, fmt.Sprintf("could not list downloaded files: %v", err))
		return
	}
	if len(files) == 0 {
		m.fail(id, "no files were downloaded")
		return
	}

	if _, err := m.registry.Update(id, func(s *State) error {
		s.Status = StatusCompleted
		s.Files = files
		s.FinishedAt = time.Now()
		return nil
	}); err != nil {
		log.Printf("Task %s could not be completed: %v", id, err)
		return
	}

	log.Printf("Task %s completed with %d file(s)", id, len(files))
	m.events.Publish(progress.Event{
		TaskID:    id,
		Status:    progress.StatusCompleted,
		FileCount: len(files),
	})
}

// probeCount asks the prober for the collection size. Failures are not fatal.
func (m *Manager) probeCount(ctx context.Context, id, url string) int {
	if m.prober == nil {
		return 1
	}
	if m.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
	}

	n, err := m.prober.Probe(ctx, url)
	if err != nil {
		log.Printf("Task %s: playlist probe failed, assuming a single item: %v", id, err)
		return 1
	}
	if n < 1 {
		return 1
	}
	return n
}

func (m *Manager) onItemProgress(id string, total int, p ItemProgress) {
	switch p.Status {
	case ItemDownloading:
		index := p.Index
		if index < 1 {
			index = 1
		}
		speed := p.Speed
		if speed == "" {
			speed = "N/A"
		}
		m.events.Publish(progress.Event{
			TaskID:   id,
			Status:   progress.StatusDownloading,
			Progress: fmt.Sprintf("%d/%d", index, total),
			Speed:    speed,
		})
	case ItemFinished:
		s, err := m.registry.IncrementCompleted(id)
		if err != nil {
			log.Printf("Task %s: could not record finished item: %v", id, err)
			return
		}
		m.events.Publish(progress.Event{
			TaskID:    id,
			Status:    progress.StatusFinished,
			Filename:  filepath.Base(p.Filename),
			Completed: fmt.Sprintf("%d/%d", s.CompletedCount, s.TotalCount),
		})
	}
}

func (m *Manager) fail(id, msg string) {
	if _, err := m.registry.Update(id, func(s *State) error {
		s.Status = StatusError
		s.Error = msg
		s.FinishedAt = time.Now()
		return nil
	}); err != nil {
		log.Printf("Task %s: could not record failure %q: %v", id, msg, err)
		return
	}
	m.events.Publish(progress.Event{
		TaskID: id,
		Status: progress.StatusError,
		Error:  msg,
	})
}

// listFiles returns the non-empty regular files in dir, sorted by name.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if skipped(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if info.Mode().IsRegular() && info.Size() > 0 {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

func skipped(name string) bool {
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
