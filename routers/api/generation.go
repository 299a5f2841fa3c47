package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetGeneration(c *gin.Context) {
	rec, err := h.store.GetGenerationRecord(c.Request.Context(), c.Param("generation_id"))
	if err != nil {
		h.storeError(c, "generation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generation": rec})
}

// RenameGeneration changes a record's display name, its only mutable field.
func (h *Handler) RenameGeneration(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 1 to 255 characters"})
		return
	}
	ctx := c.Request.Context()
	id := c.Param("generation_id")
	if err := h.store.RenameGenerationRecord(ctx, id, name); err != nil {
		h.storeError(c, "generation", err)
		return
	}
	rec, err := h.store.GetGenerationRecord(ctx, id)
	if err != nil {
		h.storeError(c, "generation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generation": rec})
}
