package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/voxhub/asr-gateway/internal/common"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// RequestID tags every request, honoring an inbound id when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(HeaderRequestID, id)
		c.Next()
	}
}

// Recovery turns panics into the standard error envelope instead of a bare
// 500 from gin's default.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
			}
		}()
		c.Next()
	}
}
