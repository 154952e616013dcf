package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports whether the agent can serve captures: the database is
// reachable and the headless browser is up or relaunchable.
func (h *Handler) Health(c *gin.Context) {
	healthy := true
	checks := gin.H{}

	if _, err := h.Store.Settings(); err != nil {
		healthy = false
		checks["database"] = "unavailable"
	} else {
		checks["database"] = "ok"
	}

	if h.Browser != nil {
		if h.Browser.Healthy() {
			checks["browser"] = "ok"
		} else {
			healthy = false
			checks["browser"] = "unavailable"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, checks)
}
