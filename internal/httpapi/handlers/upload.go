package handlers

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/voxhub/asr-gateway/internal/common"
	"github.com/voxhub/asr-gateway/internal/job"
	"go.uber.org/zap"
)

// uploadFile accepts the audio under either field name the original clients
// used.
func uploadFile(c *gin.Context) (*multipart.FileHeader, bool) {
	for _, field := range []string{"audio", "file"} {
		if fh, err := c.FormFile(field); err == nil {
			return fh, true
		}
	}
	return nil, false
}

// Upload is the admission endpoint: quota gate first, then the durable
// queued row, then async dispatch. Rejections leave no job behind.
func (h *Handler) Upload(c *gin.Context) {
	ident, p, ok := h.identityAndPlan(c)
	if !ok {
		return
	}

	fh, ok := uploadFile(c)
	if !ok {
		common.Error(c, http.StatusBadRequest, common.CodeMissingAudio, "no audio file provided")
		return
	}

	f, err := fh.Open()
	if err != nil {
		common.Error(c, http.StatusBadRequest, common.CodeMissingAudio, "audio file unreadable")
		return
	}
	defer f.Close()

	audioBytes, err := io.ReadAll(f)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "failed to read upload")
		return
	}

	j, decision, err := h.Jobs.Submit(c.Request.Context(), job.SubmitParams{
		Identity:     ident,
		Plan:         p,
		Audio:        audioBytes,
		ContentType:  fh.Header.Get("Content-Type"),
		Language:     c.PostForm("language"),
		DeclaredSize: fh.Size,
	})
	if err != nil {
		h.Log.Error("upload failed", zap.Error(err))
		common.Error(c, http.StatusInternalServerError, common.CodeInternal, "failed to queue job")
		return
	}
	if decision != nil {
		common.Error(c, http.StatusForbidden, decision.Code, decision.Message)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": j.ID,
		"status": j.Status,
	})
}
