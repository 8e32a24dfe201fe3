package models

import "encoding/json"

// TaskStatus is the lifecycle state of a server-side job.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskSuccess    TaskStatus = "success"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether the status is success or failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailed
}

// Task types the client submits.
const (
	TaskUploadAvatar         = "upload_avatar"
	TaskUploadCharacterImage = "upload_character_image"
	TaskImageGeneration      = "txt2img"
	TaskTTS                  = "tts_batch"
	TaskExport               = "data_export"
	TaskImport               = "data_import"
)

// Task is a long-running job tracked by id.
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"task_type"`
	Status     TaskStatus      `json:"status"`
	Progress   float64         `json:"progress"`
	StatusText string          `json:"status_text,omitempty"`
	StartTime  *float64        `json:"start_time,omitempty"`
	EndTime    *float64        `json:"end_time,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// ErrorText renders the error payload, which the server sends either as a
// string or as an object.
func (t *Task) ErrorText() string {
	if len(t.Error) == 0 || string(t.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(t.Error, &s); err == nil {
		return s
	}
	return string(t.Error)
}

// ResultField extracts a string field from an object result, such as
// image_url or download_url.
func (t *Task) ResultField(key string) string {
	var m map[string]any
	if err := json.Unmarshal(t.Result, &m); err != nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// TaskSubmission is the reply of every job submission endpoint.
type TaskSubmission struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}
