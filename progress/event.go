package progress

// Event statuses pushed to observers.
const (
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
	StatusCompleted   = "completed"
	StatusError       = "error"
)

// Event is a single state transition of one task. Only the fields of the
// matching status are set.
type Event struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Progress  string `json:"progress,omitempty"`  // downloading: "<index>/<total>"
	Speed     string `json:"speed,omitempty"`     // downloading
	Filename  string `json:"filename,omitempty"`  // finished
	Completed string `json:"completed,omitempty"` // finished: "<completed>/<total>"
	FileCount int    `json:"file_count,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Terminal reports whether no further events follow for the task.
func (e Event) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusError
}
