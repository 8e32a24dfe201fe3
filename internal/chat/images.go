package chat

import (
	"context"
	"log"

	"github.com/zulandar/novelsync/internal/models"
)

// startImage submits one image job per message and starts polling it.
func (e *Engine) startImage(sid, msgID, prompt string) {
	if e.images == nil || e.tasks == nil {
		return
	}
	e.mu.Lock()
	if e.imageJobs[msgID] {
		e.mu.Unlock()
		return
	}
	e.imageJobs[msgID] = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		taskID, err := e.images.GenerateImage(context.Background(), prompt)
		if err != nil || taskID == "" {
			log.Printf("chat: image for %s: %v", msgID, err)
			e.setImage(sid, msgID, &models.ImageTask{TaskID: models.ImageFailedToStart, Status: models.ImageFailed})
			e.endImage(msgID)
			return
		}
		e.setImage(sid, msgID, &models.ImageTask{TaskID: taskID, Status: models.ImageProcessing})
		e.clock.AfterFunc(e.imagePoll, func() { e.pollImage(sid, msgID, taskID) })
	}()
}

func (e *Engine) setImage(sid, msgID string, task *models.ImageTask) bool {
	return e.sessions.UpdateMessage(sid, msgID, func(m *models.ChatMessage) {
		m.ImageTask = task
	})
}

func (e *Engine) endImage(msgID string) {
	e.mu.Lock()
	delete(e.imageJobs, msgID)
	e.mu.Unlock()
}

// ImageJobs returns the number of image jobs being polled.
func (e *Engine) ImageJobs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.imageJobs)
}

// pollImage checks an image job and reschedules itself until the job
// finishes or its message disappears.
func (e *Engine) pollImage(sid, msgID, taskID string) {
	e.mu.Lock()
	active := e.imageJobs[msgID]
	e.mu.Unlock()
	if !active {
		return
	}

	task, err := e.tasks.Task(context.Background(), taskID)
	if err != nil {
		log.Printf("chat: poll image task %s: %v", taskID, err)
		e.sessions.UpdateMessage(sid, msgID, func(m *models.ChatMessage) {
			if m.ImageTask != nil {
				m.ImageTask.Status = models.ImageFailed
			}
		})
		e.endImage(msgID)
		return
	}

	var next *models.ImageTask
	switch task.Status {
	case models.TaskSuccess:
		next = &models.ImageTask{TaskID: taskID, Status: models.ImageSuccess, ImageURL: task.ResultField("image_url")}
	case models.TaskFailed:
		next = &models.ImageTask{TaskID: taskID, Status: models.ImageFailed}
	default:
		e.clock.AfterFunc(e.imagePoll, func() { e.pollImage(sid, msgID, taskID) })
		return
	}
	if e.setImage(sid, msgID, next) {
		e.sessions.SaveHistory(sid)
	}
	e.endImage(msgID)
}
