package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"CharacterReel-server/models"
	"CharacterReel-server/service"
)

type startRunRequest struct {
	Mode string `json:"mode"`
}

// StartRun queues a full, images-only or videos-only run of a project.
func (h *Handler) StartRun(c *gin.Context) {
	var req startRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Mode == "" {
		req.Mode = models.RunModeFull
	}
	switch req.Mode {
	case models.RunModeFull, models.RunModeImagesOnly, models.RunModeVideosOnly:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be full, images or videos"})
		return
	}

	project, err := h.store.GetProject(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		h.storeError(c, "project", err)
		return
	}
	h.queueRun(c, project, req.Mode, "")
}

// RegenerateScene queues a single-scene image regeneration.
func (h *Handler) RegenerateScene(c *gin.Context) {
	project, err := h.store.GetProject(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		h.storeError(c, "project", err)
		return
	}
	sceneID := c.Param("scene_id")
	found := false
	for _, s := range project.Scenes {
		if s.ID == sceneID {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "scene not found"})
		return
	}
	h.queueRun(c, project, models.RunModeRegenerate, sceneID)
}

func (h *Handler) queueRun(c *gin.Context, project *models.Project, mode, sceneID string) {
	ctx := c.Request.Context()
	run := &models.Run{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		UserID:    project.UserID,
		SceneID:   sceneID,
		Mode:      mode,
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		h.log.Error("create run failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create run failed: " + err.Error()})
		return
	}
	if err := h.queue.EnqueueRun(run.ID); err != nil {
		h.log.Error("enqueue run failed", slog.String("run_id", run.ID), slog.Any("error", err))
		_ = h.store.FinishRun(context.WithoutCancel(ctx), run.ID, models.RunStatusFailed, "", "enqueue failed: "+err.Error(), models.RunResult{})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue run failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "mode": mode})
}

func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.store.GetRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		h.storeError(c, "run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// CancelRun stops local work on a run. Jobs already submitted to the
// provider are not cancelled there.
func (h *Handler) CancelRun(c *gin.Context) {
	runID := c.Param("run_id")
	err := h.runs.CancelRun(c.Request.Context(), runID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": models.RunStatusCancelled})
	case errors.Is(err, service.ErrRunNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.storeError(c, "run", err)
	}
}
