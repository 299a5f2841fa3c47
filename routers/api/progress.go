package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"CharacterReel-server/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type progressMessage struct {
	RunID        string           `json:"runId"`
	Status       string           `json:"status"`
	Stage        string           `json:"stage"`
	CurrentScene int              `json:"currentScene"`
	TotalScenes  int              `json:"totalScenes"`
	Percentage   float64          `json:"percentage"`
	Error        string           `json:"error,omitempty"`
	Result       models.RunResult `json:"result"`
}

func progressOf(r *models.Run) progressMessage {
	return progressMessage{
		RunID:        r.ID,
		Status:       r.Status,
		Stage:        r.Stage,
		CurrentScene: r.CurrentScene,
		TotalScenes:  r.TotalScenes,
		Percentage:   r.Percentage,
		Error:        r.Error,
		Result:       r.Result,
	}
}

// RunProgressWebSocket streams run progress. The run row is the source of
// truth: it is re-read on an interval and pushed whenever it changes, and the
// connection closes after the terminal state is sent.
func (h *Handler) RunProgressWebSocket(c *gin.Context) {
	runID := c.Param("run_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("run_id", runID), slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "run not found"})
		return
	}
	prev := progressOf(run)
	if err := conn.WriteJSON(prev); err != nil || run.Terminal() {
		return
	}

	ticker := time.NewTicker(h.wsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cur, err := h.store.GetRun(ctx, runID)
		if err != nil {
			continue
		}
		msg := progressOf(cur)
		if msg.Status != prev.Status || msg.Stage != prev.Stage || msg.Percentage != prev.Percentage || msg.CurrentScene != prev.CurrentScene {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			prev = msg
		}
		if cur.Terminal() {
			return
		}
	}
}
