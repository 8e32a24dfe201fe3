package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// handleSSE pushes a state event whenever a watched store changes.
// Bursts of changes collapse into one event.
func handleSSE(opts Opts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		changed := make(chan struct{}, 1)
		for _, watch := range opts.Watch {
			unsubscribe := watch(func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			defer unsubscribe()
		}

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		writeSSE(c.Writer, "state", opts.Snapshot())
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(opts.Heartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-changed:
				writeSSE(c.Writer, "state", opts.Snapshot())
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
