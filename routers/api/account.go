package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("user_id")
	balance, err := h.store.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.storeError(c, "balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

// AddCredits tops up a balance.
func (h *Handler) AddCredits(c *gin.Context) {
	var req struct {
		Amount int64  `json:"amount" binding:"required,gt=0"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "topup"
	}
	userID := c.Param("user_id")
	balance, err := h.store.Credit(c.Request.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		h.log.Error("credit failed", slog.String("user_id", userID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

func (h *Handler) ListLedger(c *gin.Context) {
	entries, err := h.store.ListLedgerEntries(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.storeError(c, "ledger", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
