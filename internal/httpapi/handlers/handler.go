package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/voxhub/asr-gateway/internal/account"
	"github.com/voxhub/asr-gateway/internal/common"
	"github.com/voxhub/asr-gateway/internal/config"
	"github.com/voxhub/asr-gateway/internal/httpapi/middleware"
	"github.com/voxhub/asr-gateway/internal/identity"
	"github.com/voxhub/asr-gateway/internal/job"
	"github.com/voxhub/asr-gateway/internal/plan"
	"github.com/voxhub/asr-gateway/internal/usage"
	"go.uber.org/zap"
)

type Handler struct {
	Cfg      config.Config
	Log      *zap.Logger
	Accounts *account.Service
	Plans    *plan.Registry
	Jobs     *job.Service
	JobStore *job.Store
	Ledger   *usage.Store
}

func NewHandler(cfg config.Config, log *zap.Logger, accounts *account.Service, plans *plan.Registry, jobs *job.Service, store *job.Store, ledger *usage.Store) *Handler {
	return &Handler{
		Cfg:      cfg,
		Log:      log,
		Accounts: accounts,
		Plans:    plans,
		Jobs:     jobs,
		JobStore: store,
		Ledger:   ledger,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func middlewareIdentity(c *gin.Context) (identity.Identity, bool) {
	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, common.CodeUnauthorized, "authorization required")
		return identity.Identity{}, false
	}
	return ident, true
}

// identityAndPlan resolves what the auth middleware attached into the
// concrete identity plus its effective plan. Sessions always get the anon
// plan; application jobs bill against the owning user's plan.
func (h *Handler) identityAndPlan(c *gin.Context) (identity.Identity, *plan.Plan, bool) {
	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, common.CodeUnauthorized, "authorization required")
		return identity.Identity{}, nil, false
	}

	var (
		p   *plan.Plan
		err error
	)
	switch {
	case ident.IsApplication():
		p, err = h.Accounts.EffectivePlanForApplication(c.Request.Context(), *ident.ApplicationID)
	case ident.IsUser():
		p, err = h.Accounts.EffectivePlanForUser(c.Request.Context(), *ident.UserID)
	default:
		p, err = h.Plans.Resolve(c.Request.Context(), plan.CodeAnon)
	}
	if err != nil {
		h.Log.Error("plan resolution failed", zap.Error(err))
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		return identity.Identity{}, nil, false
	}
	return ident, p, true
}
