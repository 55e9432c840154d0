package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kkdai/youtube/v2"
	ytget "github.com/ytget/ytdlp/v2"

	"webdl/task"
)

// URL parameters
const (
	PlaylistParam  = "list="
	ParamSeparator = "&"
)

// ExtractPlaylistID returns the value of the list= parameter, or "".
func ExtractPlaylistID(url string) string {
	parts := strings.SplitN(url, PlaylistParam, 2)
	if len(parts) < 2 {
		return ""
	}
	id := parts[1]
	if i := strings.Index(id, ParamSeparator); i >= 0 {
		id = id[:i]
	}
	if i := strings.Index(id, "#"); i >= 0 {
		id = id[:i]
	}
	return id
}

// BinaryProber asks yt-dlp for a flat playlist listing. It works for every
// site yt-dlp supports.
type BinaryProber struct {
	Bin string
}

func (p BinaryProber) Probe(ctx context.Context, url string) (int, error) {
	cmd := exec.CommandContext(ctx, p.Bin, "--flat-playlist", "-J", "--no-warnings", "--", url)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("yt-dlp playlist probe failed: %w", err)
	}
	return CountFlatPlaylist(out)
}

// CountFlatPlaylist counts entries in yt-dlp's -J output.
func CountFlatPlaylist(data []byte) (int, error) {
	var info struct {
		Type          string            `json:"_type"`
		PlaylistCount int               `json:"playlist_count"`
		Entries       []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, fmt.Errorf("could not parse playlist info: %w", err)
	}
	if len(info.Entries) > 0 {
		return len(info.Entries), nil
	}
	if info.PlaylistCount > 0 {
		return info.PlaylistCount, nil
	}
	if info.Type != "" && info.Type != "playlist" {
		return 1, nil
	}
	return 0, fmt.Errorf("playlist has no entries")
}

// PlaylistItemsProber lists YouTube playlists through the ytdlp Go client.
type PlaylistItemsProber struct{}

func (PlaylistItemsProber) Probe(ctx context.Context, url string) (int, error) {
	id := ExtractPlaylistID(url)
	if id == "" {
		return 0, fmt.Errorf("could not extract playlist ID from URL: %s", url)
	}
	items, err := ytget.New().GetPlaylistItemsAll(ctx, id, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to get playlist items: %w", err)
	}
	return len(items), nil
}

// YouTubeProber reads YouTube playlists through kkdai/youtube.
type YouTubeProber struct {
	Client youtube.Client
}

func (p *YouTubeProber) Probe(ctx context.Context, url string) (int, error) {
	if ExtractPlaylistID(url) == "" {
		return 0, fmt.Errorf("not a YouTube playlist URL: %s", url)
	}
	playlist, err := p.Client.GetPlaylistContext(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("failed to get playlist: %w", err)
	}
	return len(playlist.Videos), nil
}

// ChainProber returns the first positive count among its probers.
type ChainProber []task.Prober

func (c ChainProber) Probe(ctx context.Context, url string) (int, error) {
	var errs []error
	for _, p := range c {
		n, err := p.Probe(ctx, url)
		if err == nil && n > 0 {
			return n, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return 0, fmt.Errorf("no prober could count %s", url)
	}
	return 0, errors.Join(errs...)
}

// DefaultProber tries the native YouTube clients before falling back to yt-dlp.
func DefaultProber(bin string) task.Prober {
	return ChainProber{
		PlaylistItemsProber{},
		&YouTubeProber{},
		BinaryProber{Bin: bin},
	}
}
