package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/voxhub/asr-gateway/internal/common"
	"github.com/voxhub/asr-gateway/internal/usage"
)

// Usage reports the identity's lifetime totals plus the running count for
// the current month, the number quota admission checks against.
func (h *Handler) Usage(c *gin.Context) {
	ident, ok := middlewareIdentity(c)
	if !ok {
		return
	}

	summary, err := h.Ledger.SummaryFor(c.Request.Context(), ident)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		return
	}

	monthly, err := h.Ledger.MonthlySeconds(c.Request.Context(), ident)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_cost_units":    summary.TotalCostUnits,
		"total_audio_sec":     summary.TotalAudioSec,
		"total_words":         summary.TotalWords,
		"count":               summary.Count,
		"month_audio_sec":     monthly,
		"month_started_after": usage.MonthStart(time.Now()),
	})
}
