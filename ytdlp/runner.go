package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"webdl/config"
	"webdl/task"
)

const (
	maxLineSize = 1024 * 1024
	waitDelay   = 10 * time.Second
)

// Runner drives the yt-dlp binary. It implements task.Fetcher.
type Runner struct {
	bin       string
	extraArgs []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	if _, err := exec.LookPath(cfg.YtdlpBin); err != nil {
		return nil, fmt.Errorf("yt-dlp binary not found or not in PATH: %s", cfg.YtdlpBin)
	}
	extra, err := ParseExtraArgs(cfg.YtdlpArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid YTDLP_ARGS: %w", err)
	}
	return &Runner{bin: cfg.YtdlpBin, extraArgs: extra}, nil
}

// BuildArgs assembles the yt-dlp command line for one download into dir.
func BuildArgs(dir string, opts task.FetchOptions, extra []string, url string) []string {
	args := []string{
		"--newline",
		"--no-colors",
		"--progress-template", ProgressTemplate,
		"-f", opts.Format,
		"-o", filepath.Join(dir, opts.OutputTemplate),
	}
	if opts.ExtractAudio {
		args = append(args, "-x")
		if opts.AudioCodec != "" {
			args = append(args, "--audio-format", opts.AudioCodec)
		}
		if opts.AudioQuality != "" {
			args = append(args, "--audio-quality", opts.AudioQuality)
		}
	}
	args = append(args, extra...)
	// Keep a URL starting with "-" from being read as a flag.
	return append(args, "--", url)
}

// Fetch runs yt-dlp and reports every parsed progress line to onProgress.
func (r *Runner) Fetch(ctx context.Context, url, dir string, opts task.FetchOptions, onProgress func(task.ItemProgress)) error {
	args := BuildArgs(dir, opts, r.extraArgs, url)
	cmd := exec.CommandContext(ctx, r.bin, args...)
	// yt-dlp may leave ffmpeg children holding the output pipe after a kill.
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	log.Printf("Executing: %s %s", r.bin, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("could not start yt-dlp: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	var lastError, lastLine string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if p, ok := ParseProgressLine(line); ok {
			if onProgress != nil {
				onProgress(p)
			}
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lastLine = trimmed
			if strings.HasPrefix(trimmed, "ERROR:") {
				lastError = trimmed
			}
		}
	}
	// Keep draining so yt-dlp never blocks on a full pipe.
	io.Copy(io.Discard, pr)

	err := <-waitErr
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch {
	case lastError != "":
		return errors.New(lastError)
	case lastLine != "":
		return fmt.Errorf("yt-dlp failed: %s (%w)", lastLine, err)
	default:
		return fmt.Errorf("yt-dlp failed: %w", err)
	}
}
