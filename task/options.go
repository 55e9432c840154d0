package task

import "strings"

// Format selectors understood by yt-dlp.
const (
	FormatBest      = "best"
	FormatBest720   = "best[height<=720]"
	FormatBest480   = "best[height<=480]"
	FormatBestAudio = "bestaudio/best"
)

const (
	SingleTemplate     = "%(title)s.%(ext)s"
	CollectionTemplate = "%(playlist_index)03d - %(title)s.%(ext)s"
)

var qualityFormats = map[string]string{
	"1": FormatBest,
	"2": FormatBest720,
	"3": FormatBest480,
}

// FetchOptions tells the fetcher what to download and how to name it.
type FetchOptions struct {
	Format         string
	OutputTemplate string
	ExtractAudio   bool
	AudioCodec     string
	AudioQuality   string
}

// IsCollection guesses whether url addresses a playlist.
func IsCollection(url string) bool {
	return strings.Contains(url, "playlist") || strings.Contains(url, "list=")
}

// FormatFor maps the quality and format choices to a format selector.
// Unknown values fall back to the best single file.
func FormatFor(quality, format string) (selector string, extractAudio bool) {
	switch format {
	case "1":
		if q, ok := qualityFormats[quality]; ok {
			return q, false
		}
		return FormatBest, false
	case "2":
		return FormatBestAudio, true
	default:
		return FormatBest, false
	}
}

// BuildFetchOptions assembles the fetch options for a task.
func BuildFetchOptions(req Request, collection bool, audioCodec, audioQuality string) FetchOptions {
	selector, extract := FormatFor(req.Quality, req.Format)
	opts := FetchOptions{
		Format:         selector,
		OutputTemplate: SingleTemplate,
		ExtractAudio:   extract,
	}
	if collection {
		opts.OutputTemplate = CollectionTemplate
	}
	if extract {
		opts.AudioCodec = audioCodec
		opts.AudioQuality = audioQuality
	}
	return opts
}
