package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"snapseal/internal/export"
	"snapseal/internal/models"
)

// assetView augments a record with its public verification URL once the
// remote id is known.
type assetView struct {
	models.Asset
	VerificationURL string `json:"verification_url,omitempty"`
}

func (h *Handler) view(a models.Asset) assetView {
	v := assetView{Asset: a}
	if a.RemoteID != "" {
		v.VerificationURL = h.VerifyBaseURL + "/" + a.RemoteID
	}
	return v
}

// ListAssets returns all records, newest first, optionally filtered by
// status or kind.
func (h *Handler) ListAssets(c *gin.Context) {
	var (
		assets []models.Asset
		err    error
	)
	switch {
	case c.Query("status") != "":
		assets, err = h.Store.ListByStatus(c.Query("status"))
	case c.Query("kind") != "":
		assets, err = h.Store.ListByKind(c.Query("kind"))
	default:
		assets, err = h.Store.List()
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]assetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, h.view(a))
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) GetAsset(c *gin.Context) {
	asset, err := h.Store.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(*asset))
}

// GetAssetImage streams the composited image bytes.
func (h *Handler) GetAssetImage(c *gin.Context) {
	asset, err := h.Store.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	r, err := h.Blobs.Reader(asset.StorageKey)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer r.Close()
	c.Header("Content-Type", asset.MimeType)
	if _, err := io.Copy(c.Writer, r); err != nil {
		h.log.WithError(err).Debug("image stream interrupted")
	}
}

// UploadAsset starts (or retries) the upload for an asset. The admission
// verdict is synchronous; the transfer continues in the background.
func (h *Handler) UploadAsset(c *gin.Context) {
	if err := h.Uploader.Enqueue(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": models.StatusUploading})
}

// DeleteAsset removes the record and its blob. Deleting an unknown id
// succeeds.
func (h *Handler) DeleteAsset(c *gin.Context) {
	id := c.Param("id")
	asset, err := h.Store.Get(id)
	if err == nil {
		if berr := h.Blobs.Delete(asset.StorageKey); berr != nil {
			h.log.WithError(berr).WithField("asset_id", id).Warn("could not delete blob")
		}
	}
	if err := h.Store.Delete(id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportAssets streams a tar.zst bundle of locally retained records.
func (h *Handler) ExportAssets(c *gin.Context) {
	c.Header("Content-Type", "application/zstd")
	c.Header("Content-Disposition", `attachment; filename="snapseal-export.tar.zst"`)
	if err := export.Write(c.Writer, h.Store, h.Blobs); err != nil {
		h.log.WithError(err).Error("export failed")
	}
}
