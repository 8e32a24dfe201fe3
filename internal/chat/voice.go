package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/zulandar/novelsync/internal/api"
	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/tasks"
)

// Synthesizer submits a speech job and returns its task id.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, userID string, segments [][2]string, params api.TTSParams) (string, error)
}

// Player plays decoded audio.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// TTSSpeaker speaks text through the server's speech jobs.
type TTSSpeaker struct {
	Synth  Synthesizer
	Tasks  tasks.Fetcher
	Player Player
	UserID func() string
	Clock  clock.Clock
}

// speechParams are the neutral rate, volume and pitch.
var speechParams = api.TTSParams{Rate: 50, Volume: 50, Pitch: 50}

// Speak submits text, waits for the audio and hands it to the player.
func (s *TTSSpeaker) Speak(ctx context.Context, text, voice string) error {
	id, err := s.Synth.SynthesizeSpeech(ctx, s.UserID(), [][2]string{{text, voice}}, speechParams)
	if err != nil {
		return fmt.Errorf("chat: speak: %w", err)
	}
	task, err := tasks.Await(ctx, s.Tasks, id, tasks.AwaitOpts{
		Interval: 2 * time.Second,
		Timeout:  300 * time.Second,
		Clock:    s.Clock,
	})
	if err != nil {
		return fmt.Errorf("chat: speak: %w", err)
	}
	encoded := task.ResultField("audio_data")
	if encoded == "" {
		return fmt.Errorf("chat: speak: task %s returned no audio", id)
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("chat: speak: decode audio: %w", err)
	}
	return s.Player.Play(ctx, audio)
}

// WriterPlayer writes audio to W, for piping into an external player.
type WriterPlayer struct {
	W io.Writer
}

// Play writes the audio bytes.
func (p WriterPlayer) Play(_ context.Context, audio []byte) error {
	if _, err := p.W.Write(audio); err != nil {
		return fmt.Errorf("chat: play: %w", err)
	}
	return nil
}
