package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"snapseal/internal/attest"
	"snapseal/internal/capture"
	"snapseal/internal/composer"
	"snapseal/internal/session"
	"snapseal/internal/storage"
	"snapseal/internal/store"
	"snapseal/internal/uploader"
)

// pageCapturer is the capture primitive the handlers consume.
type pageCapturer interface {
	CapturePage(ctx context.Context, url string) (*capture.Capture, error)
}

// healthReporter is the slice of the browser manager the health endpoint
// consumes.
type healthReporter interface {
	Healthy() bool
}

// Handler carries the wired components behind the local control API.
type Handler struct {
	Store         *store.Store
	Blobs         storage.Storage
	Capturer      pageCapturer
	Composer      *composer.Composer
	Geo           capture.GeoProvider
	Session       *session.Manager
	Uploader      *uploader.Orchestrator
	VerifyBaseURL string
	// Browser, when set, contributes to the health report.
	Browser healthReporter

	log *logrus.Entry
}

func New(st *store.Store, blobs storage.Storage, cap pageCapturer, comp *composer.Composer, geo capture.GeoProvider, sess *session.Manager, up *uploader.Orchestrator, verifyBaseURL string) *Handler {
	return &Handler{
		Store:         st,
		Blobs:         blobs,
		Capturer:      cap,
		Composer:      comp,
		Geo:           geo,
		Session:       sess,
		Uploader:      up,
		VerifyBaseURL: verifyBaseURL,
		log:           logrus.WithField("component", "handlers"),
	}
}

// Register mounts all routes.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")

	api.POST("/captures", h.CreateCapture)

	api.GET("/assets", h.ListAssets)
	api.GET("/assets/export", h.ExportAssets)
	api.GET("/assets/:id", h.GetAsset)
	api.GET("/assets/:id/image", h.GetAssetImage)
	api.POST("/assets/:id/upload", h.UploadAsset)
	api.DELETE("/assets/:id", h.DeleteAsset)

	api.POST("/auth/login", h.Login)
	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/google", h.GoogleLogin)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)
	api.PATCH("/auth/me", h.UpdateMe)
	api.DELETE("/auth/me", h.DeleteMe)

	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.PutSettings)
	api.POST("/notices/credits/dismiss", h.DismissCreditsNotice)
}

// respondError maps classified and contract errors to HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
	case errors.Is(err, uploader.ErrAlreadyUploading):
		c.JSON(http.StatusConflict, gin.H{"error": "upload already in flight"})
	case errors.Is(err, uploader.ErrNotUploadable):
		c.JSON(http.StatusConflict, gin.H{"error": "asset not in an uploadable state"})
	case errors.Is(err, uploader.ErrNotAuthenticated), errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, attest.ErrNoToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
	default:
		if apiErr, ok := attest.AsAPIError(err); ok {
			c.JSON(statusForAPIError(apiErr), gin.H{"error": apiErr.Message, "error_type": apiErr.Type})
			return
		}
		h.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func statusForAPIError(apiErr *attest.APIError) int {
	switch apiErr.Type {
	case attest.ErrorTypeNetwork:
		return http.StatusServiceUnavailable
	case attest.ErrorTypeServer:
		return http.StatusBadGateway
	case attest.ErrorTypeQuota:
		return http.StatusPaymentRequired
	default:
		return http.StatusUnauthorized
	}
}
