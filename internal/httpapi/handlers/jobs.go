package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voxhub/asr-gateway/internal/common"
	"github.com/voxhub/asr-gateway/internal/job"
	"go.uber.org/zap"
)

func statusPayload(j *job.Job) gin.H {
	payload := gin.H{
		"job_id":     j.ID,
		"status":     j.Status,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	if j.AudioDurationSec != nil {
		payload["audio_duration_sec"] = *j.AudioDurationSec
	}
	if j.AudioSampleRate != nil {
		payload["audio_sample_rate"] = *j.AudioSampleRate
	}
	if j.AudioChannels != nil {
		payload["audio_channels"] = *j.AudioChannels
	}
	if j.AudioFormat != nil {
		payload["audio_format"] = *j.AudioFormat
	}
	if j.AudioMime != nil {
		payload["audio_mime"] = *j.AudioMime
	}
	if j.Status == job.StatusError && j.ErrorCode != nil {
		payload["error_code"] = *j.ErrorCode
		if j.ErrorMessagePublic != nil {
			payload["message"] = *j.ErrorMessagePublic
		}
	}
	return payload
}

// JobStatus reports lifecycle state. Error jobs expose only the public
// taxonomy pair; internal detail stays in the database.
func (h *Handler) JobStatus(c *gin.Context) {
	ident, ok := middlewareIdentity(c)
	if !ok {
		return
	}

	j, err := h.JobStore.FindForIdentity(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			common.Error(c, http.StatusNotFound, common.CodeNotFound, "job not found")
			return
		}
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		return
	}

	c.JSON(http.StatusOK, statusPayload(j))
}

// JobResult is the polling endpoint: 202 while in flight, the public error
// pair on failure, the full transcript payload once done.
func (h *Handler) JobResult(c *gin.Context) {
	ident, ok := middlewareIdentity(c)
	if !ok {
		return
	}

	j, err := h.JobStore.FindForIdentity(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			common.Error(c, http.StatusNotFound, common.CodeNotFound, "job not found")
			return
		}
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		return
	}

	switch j.Status {
	case job.StatusQueued, job.StatusProcessing:
		c.JSON(http.StatusAccepted, gin.H{"status": j.Status})
		return
	case job.StatusError:
		code := "PROCESSING_FAILED"
		message := "Audio processing failed."
		if j.ErrorCode != nil {
			code = *j.ErrorCode
		}
		if j.ErrorMessagePublic != nil {
			message = *j.ErrorMessagePublic
		}
		common.Error(c, http.StatusBadRequest, code, message)
		return
	}

	payload := gin.H{
		"job_id":       j.ID,
		"status":       j.Status,
		"words_count":  j.WordsCount,
		"chars_count":  j.CharsCount,
		"plan_at_time": j.PlanCode,
	}
	if j.Text != nil {
		payload["text"] = *j.Text
	}
	if j.AudioDurationSec != nil {
		payload["audio_duration_sec"] = *j.AudioDurationSec
	}
	if j.ProcessingTimeSec != nil {
		payload["processing_time_sec"] = *j.ProcessingTimeSec
	}

	entry, err := h.Ledger.EntryForJob(c.Request.Context(), j.ID)
	if err != nil {
		h.Log.Warn("ledger lookup failed", zap.String("job_id", j.ID), zap.Error(err))
	} else if entry != nil {
		payload["cost_units"] = entry.CostUnits
		payload["plan_at_time"] = entry.PlanCode
	}

	c.JSON(http.StatusOK, payload)
}

// JobHistory pages through the identity's jobs, bounded by the plan's
// history retention window.
func (h *Handler) JobHistory(c *gin.Context) {
	ident, p, ok := h.identityAndPlan(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	hp, err := h.JobStore.History(c.Request.Context(), ident, p.HistoryRetentionDays, page, pageSize)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "internal server error")
		return
	}

	results := make([]gin.H, 0, len(hp.Jobs))
	for i := range hp.Jobs {
		results = append(results, statusPayload(&hp.Jobs[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"page":      hp.Page,
		"page_size": hp.PageSize,
		"total":     hp.Total,
		"results":   results,
	})
}
