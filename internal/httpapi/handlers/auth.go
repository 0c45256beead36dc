package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/voxhub/asr-gateway/internal/account"
	"github.com/voxhub/asr-gateway/internal/auth"
	"github.com/voxhub/asr-gateway/internal/common"
	"go.uber.org/zap"
)

const (
	userTokenTTL = 24 * time.Hour
	anonTokenTTL = 24 * time.Hour
)

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Register(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid json")
		return
	}

	user, err := h.Accounts.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrUsernameTaken):
			common.Error(c, http.StatusConflict, "USERNAME_TAKEN", "username already exists")
		case errors.Is(err, account.ErrInvalidCredentials):
			common.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "username and password required")
		default:
			h.Log.Error("register failed", zap.Error(err))
			common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		}
		return
	}

	token, err := auth.SignUser(user.ID, h.Cfg.JWTSecret, userTokenTTL)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "failed to sign token")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"token":    token,
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid json")
		return
	}

	user, err := h.Accounts.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			common.Error(c, http.StatusUnauthorized, common.CodeUnauthorized, "invalid credentials")
			return
		}
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		return
	}

	token, err := auth.SignUser(user.ID, h.Cfg.JWTSecret, userTokenTTL)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "failed to sign token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// AnonSession issues a short-lived token bound to a fresh session key. The
// client keeps the key; every anonymous job is scoped to it.
func (h *Handler) AnonSession(c *gin.Context) {
	sessionKey := uuid.NewString()

	token, err := auth.SignSession(sessionKey, h.Cfg.JWTSecret, anonTokenTTL)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "failed to sign token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":       token,
		"session_key": sessionKey,
		"expires_in":  int(anonTokenTTL.Seconds()),
	})
}
