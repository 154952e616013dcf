package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type settingsRequest struct {
	ShowTimestamp   bool   `json:"show_timestamp"`
	WatermarkSize   string `json:"watermark_size" binding:"required,oneof=small medium large"`
	IncludeLocation bool   `json:"include_location"`
	IncludeSource   bool   `json:"include_source"`
	AutoUpload      bool   `json:"auto_upload"`
}

func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.Store.Settings()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handler) PutSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "watermark_size must be one of small, medium, large"})
		return
	}
	settings, err := h.Store.Settings()
	if err != nil {
		h.respondError(c, err)
		return
	}
	settings.ShowTimestamp = req.ShowTimestamp
	settings.WatermarkSize = req.WatermarkSize
	settings.IncludeLocation = req.IncludeLocation
	settings.IncludeSource = req.IncludeSource
	settings.AutoUpload = req.AutoUpload
	if err := h.Store.SaveSettings(settings); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// DismissCreditsNotice records that the insufficient-credits notice has
// been acknowledged. A later quota failure resets it.
func (h *Handler) DismissCreditsNotice(c *gin.Context) {
	settings, err := h.Store.Settings()
	if err != nil {
		h.respondError(c, err)
		return
	}
	settings.CreditsNoticeDismissed = true
	if err := h.Store.SaveSettings(settings); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}
