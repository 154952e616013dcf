package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type signupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Username string `json:"username"`
}

type googleLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	if err := h.Session.Login(c.Request.Context(), req.Email, req.Password); err != nil {
		h.respondError(c, err)
		return
	}
	h.Me(c)
}

func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and a password of at least 8 characters are required"})
		return
	}
	if err := h.Session.Signup(c.Request.Context(), req.Email, req.Password, req.Username); err != nil {
		h.respondError(c, err)
		return
	}
	h.Me(c)
}

func (h *Handler) GoogleLogin(c *gin.Context) {
	var req googleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id_token is required"})
		return
	}
	if err := h.Session.LoginWithGoogle(c.Request.Context(), req.IDToken); err != nil {
		h.respondError(c, err)
		return
	}
	h.Me(c)
}

// Logout always succeeds from the caller's perspective.
func (h *Handler) Logout(c *gin.Context) {
	h.Session.Logout()
	c.Status(http.StatusNoContent)
}

// Me reports the cached session state.
func (h *Handler) Me(c *gin.Context) {
	email, username, ok := h.Session.Profile()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"email":         email,
		"username":      username,
	})
}

// UpdateMe patches the remote profile.
func (h *Handler) UpdateMe(c *gin.Context) {
	var fields map[string]string
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profile fields are required"})
		return
	}
	if err := h.Session.UpdateProfile(c.Request.Context(), fields); err != nil {
		h.respondError(c, err)
		return
	}
	h.Me(c)
}

// DeleteMe deletes the remote account and clears the local credential.
func (h *Handler) DeleteMe(c *gin.Context) {
	if err := h.Session.DeleteAccount(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
