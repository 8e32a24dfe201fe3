package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zulandar/novelsync/internal/models"
)

// Task fetches a job's status.
func (c *Client) Task(ctx context.Context, taskID string) (*models.Task, error) {
	var out models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+seg(taskID), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = taskID
	}
	return &out, nil
}

// UserTasks lists the user's recent jobs.
func (c *Client) UserTasks(ctx context.Context, userID string) ([]models.Task, error) {
	var out []models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/user/"+seg(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func submitted(op string, s *models.TaskSubmission) (string, error) {
	if s.TaskID == "" {
		return "", fmt.Errorf("api: %s: reply has no task_id", op)
	}
	return s.TaskID, nil
}

// GenerateImage submits a text-to-image job and returns its task id.
func (c *Client) GenerateImage(ctx context.Context, userID, prompt string) (string, error) {
	var out models.TaskSubmission
	body := map[string]any{"prompt": prompt, "user_id": userID}
	if err := c.do(ctx, http.MethodPost, "/aigc/txt2img", nil, body, &out); err != nil {
		return "", err
	}
	return submitted("txt2img", &out)
}

// TTSParams tunes speech synthesis.
type TTSParams struct {
	Rate   int `json:"rate"`
	Volume int `json:"volume"`
	Pitch  int `json:"pitch"`
}

// SynthesizeSpeech submits a batch TTS job. Each segment is a
// [text, voice] pair.
func (c *Client) SynthesizeSpeech(ctx context.Context, userID string, segments [][2]string, params TTSParams) (string, error) {
	var out models.TaskSubmission
	body := map[string]any{"user_id": userID, "segments": segments, "params": params}
	if err := c.do(ctx, http.MethodPost, "/tts/synthesize-batch", nil, body, &out); err != nil {
		return "", err
	}
	return submitted("synthesize-batch", &out)
}

// ExportData submits a full data export job.
func (c *Client) ExportData(ctx context.Context, userID string) (string, error) {
	var out models.TaskSubmission
	if err := c.do(ctx, http.MethodPost, "/data/export/"+seg(userID), nil, nil, &out); err != nil {
		return "", err
	}
	return submitted("export", &out)
}
