package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"snapseal/internal/composer"
	"snapseal/internal/models"
)

type captureRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// CreateCapture grabs a page, composes the watermark, persists the asset
// as a draft, and optionally starts the upload.
func (h *Handler) CreateCapture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid url is required"})
		return
	}

	settings, err := h.Store.Settings()
	if err != nil {
		h.respondError(c, err)
		return
	}

	cap, err := h.Capturer.CapturePage(c.Request.Context(), req.URL)
	if err != nil {
		h.log.WithError(err).WithField("url", req.URL).Warn("capture failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not capture page"})
		return
	}

	spec := composer.Spec{
		ShowTimestamp: settings.ShowTimestamp,
		Tier:          composer.SizeTier(settings.WatermarkSize),
	}
	img, err := h.Composer.Compose(cap.Image, cap.TakenAt, spec)
	if err != nil {
		// Watermarking was requested; the raw capture is never stored in
		// its place.
		h.respondError(c, err)
		return
	}

	id := uuid.NewString()
	mimeType, ext := composer.FormatFor(img)
	key := id + ext

	w, err := h.Blobs.Writer(key)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, _, err := composer.Encode(w, img); err != nil {
		w.Close()
		h.respondError(c, err)
		return
	}
	if err := w.Close(); err != nil {
		h.respondError(c, err)
		return
	}

	b := img.Bounds()
	asset := models.Asset{
		ID:         id,
		StorageKey: key,
		Kind:       models.KindImage,
		MimeType:   mimeType,
		CreatedAt:  cap.TakenAt,
		Status:     models.StatusDraft,
		Width:      b.Dx(),
		Height:     b.Dy(),
	}
	if settings.IncludeLocation {
		if loc, err := h.Geo.Current(c.Request.Context()); err == nil {
			asset.Latitude = &loc.Latitude
			asset.Longitude = &loc.Longitude
			asset.Accuracy = &loc.Accuracy
		} else {
			h.log.Debug("location unavailable for capture")
		}
	}
	if settings.IncludeSource {
		asset.SourceURL = cap.URL
		asset.SourceTitle = cap.Title
	}

	if err := h.Store.Create(&asset); err != nil {
		h.respondError(c, err)
		return
	}
	h.log.WithFields(logrus.Fields{"asset_id": id, "url": req.URL}).Info("capture stored")

	if settings.AutoUpload {
		if err := h.Uploader.Enqueue(id); err != nil {
			h.log.WithError(err).WithField("asset_id", id).Warn("auto upload not started")
		}
	}

	c.JSON(http.StatusCreated, asset)
}
