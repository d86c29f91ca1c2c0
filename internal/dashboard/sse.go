package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/signalman"
	"gorm.io/gorm"
)

// Polling cadence of the event stream. Variables so tests can shorten them.
var (
	ssePollInterval      = 3 * time.Second
	sseHeartbeatInterval = 15 * time.Second
)

// SummaryView is the API view of what is currently in flight.
type SummaryView struct {
	OpenMergeRequests int `json:"open_merge_requests"`
	PendingPipelines  int `json:"pending_pipelines"`
	ActiveChains      int `json:"active_chains"`
}

func summaryView(s signalman.Summary) SummaryView {
	return SummaryView{
		OpenMergeRequests: s.OpenMergeRequests,
		PendingPipelines:  s.PendingPipelines,
		ActiveChains:      s.ActiveChains,
	}
}

// handleSSE streams a summary event whenever the in-flight counts change.
func handleSSE(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		var last *SummaryView
		send := func() {
			s, err := signalman.Summarize(gdb)
			if err != nil {
				writeSSE(c.Writer, "error", map[string]string{"error": err.Error()})
				c.Writer.Flush()
				return
			}
			v := summaryView(s)
			if last != nil && *last == v {
				return
			}
			last = &v
			writeSSE(c.Writer, "summary", v)
			c.Writer.Flush()
		}
		send()

		ctx := c.Request.Context()
		ticker := time.NewTicker(ssePollInterval)
		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer ticker.Stop()
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
			case <-ticker.C:
				send()
			}
		}
	}
}

// writeSSE writes a single SSE event.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
}
