package task

import (
	"fmt"
	"os"
)

// Workspace owns where task work directories live. Directories are never
// removed; a retention policy belongs here.
type Workspace interface {
	Create(taskID string) (string, error)
}

// TempWorkspace creates one fresh directory per task under Root, or under the
// system temp directory when Root is empty.
type TempWorkspace struct {
	Root string
}

func (w TempWorkspace) Create(taskID string) (string, error) {
	if w.Root != "" {
		if err := os.MkdirAll(w.Root, 0o755); err != nil {
			return "", fmt.Errorf("could not create work root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(w.Root, fmt.Sprintf("webdl_%s_", taskID))
	if err != nil {
		return "", fmt.Errorf("could not create work directory: %w", err)
	}
	return dir, nil
}
