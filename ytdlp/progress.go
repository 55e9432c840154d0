package ytdlp

import (
	"strconv"
	"strings"

	"webdl/task"
)

const progressPrefix = "webdl-progress|"

// ProgressTemplate makes yt-dlp print one machine-readable line per progress
// hook call. The filename goes last since it may contain the separator.
const ProgressTemplate = "download:" + progressPrefix +
	"%(progress.status)s|%(info.playlist_index)s|%(progress._speed_str)s|%(progress.filename)s"

// yt-dlp prints NA for fields that are not available.
const notAvailable = "NA"

// ParseProgressLine decodes a line printed through ProgressTemplate.
func ParseProgressLine(line string) (task.ItemProgress, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, progressPrefix) {
		return task.ItemProgress{}, false
	}
	fields := strings.SplitN(strings.TrimPrefix(line, progressPrefix), "|", 4)
	if len(fields) != 4 {
		return task.ItemProgress{}, false
	}

	var p task.ItemProgress
	switch task.ItemStatus(fields[0]) {
	case task.ItemDownloading:
		p.Status = task.ItemDownloading
	case task.ItemFinished:
		p.Status = task.ItemFinished
	default:
		return task.ItemProgress{}, false
	}
	if idx, err := strconv.Atoi(strings.TrimSpace(fields[1])); err == nil {
		p.Index = idx
	}
	if speed := strings.TrimSpace(fields[2]); speed != notAvailable {
		p.Speed = speed
	}
	if name := fields[3]; name != notAvailable {
		p.Filename = name
	}
	return p, true
}
