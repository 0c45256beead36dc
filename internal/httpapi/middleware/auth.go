package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/voxhub/asr-gateway/internal/account"
	"github.com/voxhub/asr-gateway/internal/auth"
	"github.com/voxhub/asr-gateway/internal/common"
	"github.com/voxhub/asr-gateway/internal/identity"
)

const (
	ctxIdentity  = "identity"
	ctxIsSession = "is_session"

	HeaderSessionKey = "X-Session-Key"
)

// IdentityFrom returns the authenticated identity set by one of the auth
// middlewares.
func IdentityFrom(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(ctxIdentity)
	if !ok {
		return identity.Identity{}, false
	}
	ident, ok := v.(identity.Identity)
	return ident, ok
}

// IsSession reports whether the identity came from an anonymous session
// token; those always resolve to the anon plan.
func IsSession(c *gin.Context) bool {
	return c.GetBool(ctxIsSession)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// UserOrAnon authenticates either a registered user token or an anonymous
// session token. A session token whose sid disagrees with an explicit
// X-Session-Key header fails closed: no fallback identity is ever guessed.
func UserOrAnon(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			common.Error(c, http.StatusUnauthorized, common.CodeUnauthorized, "authorization required")
			return
		}

		claims, err := auth.Parse(raw, secret)
		if err != nil {
			common.Error(c, http.StatusUnauthorized, common.CodeUnauthorized, "invalid or expired token")
			return
		}

		switch {
		case claims.UserID != nil:
			c.Set(ctxIdentity, identity.ForUser(*claims.UserID))
		case claims.SessionKey != "":
			if hdr := c.GetHeader(HeaderSessionKey); hdr != "" && hdr != claims.SessionKey {
				common.Error(c, http.StatusUnauthorized, common.CodeSessionMissing, "session key mismatch")
				return
			}
			c.Set(ctxIdentity, identity.ForSession(claims.SessionKey))
			c.Set(ctxIsSession, true)
		default:
			common.Error(c, http.StatusUnauthorized, common.CodeSessionMissing, "token carries no identity")
			return
		}
		c.Next()
	}
}

// APIToken authenticates the application surface. The raw token arrives in
// X-Api-Key or as a bearer token and maps to an application through its
// stored hash; the job owner is the application, never the user behind it.
func APIToken(accounts *account.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-Api-Key")
		if raw == "" {
			raw = bearerToken(c)
		}
		if raw == "" {
			common.Error(c, http.StatusUnauthorized, common.CodeUnauthorized, "api token required")
			return
		}

		app, err := accounts.AuthenticateAPIToken(c.Request.Context(), raw)
		if err != nil {
			if errors.Is(err, account.ErrTokenInvalid) {
				common.Error(c, http.StatusUnauthorized, common.CodeUnauthorized, "api token invalid or revoked")
				return
			}
			common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
			return
		}

		c.Set(ctxIdentity, identity.ForApplication(app.ID))
		c.Set("application", app)
		c.Next()
	}
}

// ApplicationFrom returns the application authenticated by APIToken.
func ApplicationFrom(c *gin.Context) (*account.Application, bool) {
	v, ok := c.Get("application")
	if !ok {
		return nil, false
	}
	app, ok := v.(*account.Application)
	return app, ok
}
