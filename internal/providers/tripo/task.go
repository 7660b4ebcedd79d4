package tripo

import "strings"

// TaskStatus is the lifecycle state reported by the task endpoint.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSuccess   TaskStatus = "success"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusUnknown   TaskStatus = "unknown"
)

// Failed reports whether polling must stop without a result.
func (s TaskStatus) Failed() bool {
	switch s {
	case TaskStatusFailed, TaskStatusCancelled, TaskStatusUnknown:
		return true
	}
	return false
}

// Task is the data object of a task status response.
type Task struct {
	TaskID   string     `json:"task_id"`
	Type     string     `json:"type"`
	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Output   TaskOutput `json:"output"`
	Result   TaskResult `json:"result"`
}

// TaskOutput carries direct download URLs.
type TaskOutput struct {
	PBRModel string `json:"pbr_model,omitempty"`
	Model    string `json:"model,omitempty"`
}

// TaskResult carries nested file objects on older API shapes.
type TaskResult struct {
	PBRModel *ResultFile `json:"pbr_model,omitempty"`
	Model    *ResultFile `json:"model,omitempty"`
}

// ResultFile is a nested downloadable file.
type ResultFile struct {
	Type string `json:"type,omitempty"`
	URL  string `json:"url"`
}

// URLExtractor pulls one candidate download URL out of a task.
type URLExtractor func(*Task) string

// ModelURLExtractors lists the response shapes in priority order: direct
// output fields before nested result objects, PBR before plain meshes.
var ModelURLExtractors = []URLExtractor{
	func(t *Task) string { return t.Output.PBRModel },
	func(t *Task) string { return t.Output.Model },
	func(t *Task) string {
		if t.Result.PBRModel == nil {
			return ""
		}
		return t.Result.PBRModel.URL
	},
	func(t *Task) string {
		if t.Result.Model == nil {
			return ""
		}
		return t.Result.Model.URL
	},
}

// ModelURL returns the first non-empty URL from ModelURLExtractors.
func (t *Task) ModelURL() string {
	if t == nil {
		return ""
	}
	for _, extract := range ModelURLExtractors {
		if u := strings.TrimSpace(extract(t)); u != "" {
			return u
		}
	}
	return ""
}
