package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/code-100-precent/TrunkEcho/pkg/response"
)

// handleUploadAttachment 上传呼叫附件（语音片段、勤务图片等），异步落盘
func (h *Handlers) handleUploadAttachment(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		response.Fail(c, "missing file field: "+err.Error(), nil)
		return
	}
	src, err := header.Open()
	if err != nil {
		response.Fail(c, "cannot read upload: "+err.Error(), nil)
		return
	}
	defer src.Close()

	jobID := h.transfers.Enqueue(id, header.Filename, src)
	response.Success(c, "transfer started", gin.H{"jobId": jobID})
}

// handleAttachmentStatus 查询附件传输任务状态
func (h *Handlers) handleAttachmentStatus(c *gin.Context) {
	job := h.transfers.Job(c.Param("jobId"))
	if job == nil {
		response.Fail(c, "unknown transfer job", nil)
		return
	}
	response.Success(c, "success", gin.H{
		"id":      job.ID,
		"session": job.SessionID,
		"name":    job.Name,
		"size":    job.Size,
		"status":  string(job.Status),
		"error":   job.Error,
	})
}
