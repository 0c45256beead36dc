package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/voxhub/asr-gateway/internal/common"
	"github.com/voxhub/asr-gateway/internal/httpapi/middleware"
	"go.uber.org/zap"
)

type createApplicationReq struct {
	Name string `json:"name"`
}

// CreateApplication registers an application under the calling user and
// returns its API token exactly once. Anonymous sessions cannot own
// applications.
func (h *Handler) CreateApplication(c *gin.Context) {
	ident, ok := middlewareIdentity(c)
	if !ok {
		return
	}
	if !ident.IsUser() || middleware.IsSession(c) {
		common.Error(c, http.StatusForbidden, common.CodeUnauthorized, "a registered account is required")
		return
	}

	var req createApplicationReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		common.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "application name required")
		return
	}

	app, rawToken, err := h.Accounts.CreateApplication(c.Request.Context(), *ident.UserID, strings.TrimSpace(req.Name))
	if err != nil {
		h.Log.Error("application creation failed", zap.Error(err))
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        app.ID,
		"name":      app.Name,
		"api_token": rawToken,
	})
}
