// internal/api/handlers.go
package api

import (
	"context"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"omni-transcriber/internal/config"
	apperrors "omni-transcriber/internal/errors"
	"omni-transcriber/internal/pipeline"
	"omni-transcriber/internal/services"
	"omni-transcriber/internal/settings"
	"omni-transcriber/internal/sourceurl"
	"omni-transcriber/internal/utils"
)

// 上传限制
const maxUploadBytes = 200 << 20 // 200MB

// allowedUploadExts 允许上传的音频扩展名。
// webm既是音频也是视频容器，作为例外一并放行。
var allowedUploadExts = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".wav":  true,
	".webm": true,
	".ogg":  true,
	".flac": true,
}

// Handler 处理API请求
type Handler struct {
	Config          *config.Config
	JobService      *services.JobService
	ProgressService *services.ProgressService
	Settings        *settings.Store
	Orchestrator    *pipeline.Orchestrator
	Response        *ResponseHelper
}

// NewHandler 创建API处理器
func NewHandler(
	cfg *config.Config,
	jobService *services.JobService,
	progressService *services.ProgressService,
	settingsStore *settings.Store,
	orchestrator *pipeline.Orchestrator,
) *Handler {
	return &Handler{
		Config:          cfg,
		JobService:      jobService,
		ProgressService: progressService,
		Settings:        settingsStore,
		Orchestrator:    orchestrator,
		Response:        NewResponseHelper(),
	}
}

// SubmitJobRequest 提交URL任务的请求体
type SubmitJobRequest struct {
	URL      string `json:"url" binding:"required"`
	CallerID int64  `json:"caller_id"`
}

// SubmitJob 处理URL来源的转写任务提交
// POST /api/jobs
func (h *Handler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误")
		return
	}

	if !h.Config.AllowsCaller(req.CallerID) {
		h.Response.Forbidden(c, "调用者不在白名单内")
		return
	}

	desc, ok := sourceurl.Classify(req.URL)
	if !ok {
		h.Response.BadRequest(c, "无法识别的链接，目前支持YouTube、Bilibili和Apple Podcasts")
		return
	}

	jobID := uuid.NewString()
	h.JobService.Create(jobID, req.CallerID)

	go h.runPipeline(pipeline.Request{
		ID:       jobID,
		CallerID: req.CallerID,
		Source:   pipeline.Source{Descriptor: &desc},
	}, "")

	h.Response.Created(c, gin.H{
		"job_id":   jobID,
		"platform": desc.Platform,
	})
}

// UploadJob 处理直接上传音频文件的任务提交
// POST /api/jobs/upload
func (h *Handler) UploadJob(c *gin.Context) {
	callerID := int64(0)
	if raw := c.PostForm("caller_id"); raw != "" {
		parsed, err := parseCallerID(raw)
		if err != nil {
			h.Response.BadRequest(c, "caller_id格式错误")
			return
		}
		callerID = parsed
	}

	if !h.Config.AllowsCaller(callerID) {
		h.Response.Forbidden(c, "调用者不在白名单内")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.Response.BadRequest(c, "缺少音频文件")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		h.Response.BadRequest(c, "文件过大")
		return
	}

	// 原始文件名不可信，先消毒再取扩展名
	safeName := utils.SanitizeFilename(fileHeader.Filename, utils.DefaultMaxBaseLength)
	ext := strings.ToLower(filepath.Ext(safeName))
	if !allowedUploadExts[ext] {
		h.Response.BadRequest(c, "不支持的音频格式")
		return
	}

	stagedPath, err := h.stageUpload(fileHeader, ext)
	if err != nil {
		log.Printf("暂存上传文件失败: %v", err)
		h.Response.InternalError(c, "保存上传文件失败")
		return
	}

	jobID := uuid.NewString()
	h.JobService.Create(jobID, callerID)

	go h.runPipeline(pipeline.Request{
		ID:       jobID,
		CallerID: callerID,
		Source: pipeline.Source{
			Upload: &pipeline.Upload{
				Path:         stagedPath,
				OriginalName: fileHeader.Filename,
			},
		},
	}, stagedPath)

	h.Response.Created(c, gin.H{"job_id": jobID})
}

// stageUpload 把上传内容落盘到临时目录
func (h *Handler) stageUpload(fileHeader *multipart.FileHeader, ext string) (string, error) {
	uploadDir := filepath.Join(h.Config.TempDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return "", err
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp(uploadDir, "upload_*"+ext)
	if err != nil {
		return "", err
	}
	path := dst.Name()

	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// runPipeline 在后台执行流水线并回写任务状态。
// stagedPath非空时在结束后删除暂存的上传文件。
func (h *Handler) runPipeline(req pipeline.Request, stagedPath string) {
	if stagedPath != "" {
		defer os.Remove(stagedPath)
	}

	sink := func(stage, message string) {
		h.JobService.SetStage(req.ID, stage, message)
	}

	artifacts, err := h.Orchestrator.Run(context.Background(), req, sink)
	if err != nil {
		log.Printf("任务 %s 失败: %v", req.ID, err)
		h.JobService.MarkFailed(req.ID, err)
		return
	}
	h.JobService.MarkCompleted(req.ID, artifacts)
}

// GetJob 查询任务状态
// GET /api/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.JobService.Get(c.Param("id"))
	if err != nil {
		h.Response.NotFound(c, "任务不存在")
		return
	}
	h.Response.Success(c, job)
}

// DownloadArtifact 下载任务产物
// GET /api/jobs/:id/files/:name
func (h *Handler) DownloadArtifact(c *gin.Context) {
	path, err := h.JobService.ArtifactPath(c.Param("id"), c.Param("name"))
	if err != nil {
		if apperrors.IsInput(err) {
			h.Response.BadRequest(c, "非法的文件名")
			return
		}
		h.Response.NotFound(c, "产物不存在或已过期")
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// GetPreferences 读取调用者偏好
// GET /api/callers/:id/preferences
func (h *Handler) GetPreferences(c *gin.Context) {
	callerID, err := parseCallerID(c.Param("id"))
	if err != nil {
		h.Response.BadRequest(c, "调用者ID格式错误")
		return
	}
	if !h.Config.AllowsCaller(callerID) {
		h.Response.Forbidden(c, "调用者不在白名单内")
		return
	}

	prefs := h.Settings.GetAllFor(callerID)
	h.Response.Success(c, gin.H{
		"caller_id":   callerID,
		"preferences": prefs,
	})
}

// UpdatePreferencesRequest 更新偏好的请求体，字段均可选
type UpdatePreferencesRequest struct {
	Translation      *bool   `json:"translation"`
	TranscriberModel *string `json:"transcriber_model"`
	EditorModel      *string `json:"editor_model"`
	SystemPrompt     *string `json:"system_prompt"`
}

// UpdatePreferences 更新调用者偏好，逐项校验后写入
// PUT /api/callers/:id/preferences
func (h *Handler) UpdatePreferences(c *gin.Context) {
	callerID, err := parseCallerID(c.Param("id"))
	if err != nil {
		h.Response.BadRequest(c, "调用者ID格式错误")
		return
	}
	if !h.Config.AllowsCaller(callerID) {
		h.Response.Forbidden(c, "调用者不在白名单内")
		return
	}

	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误")
		return
	}

	if req.TranscriberModel != nil && !validTier(*req.TranscriberModel) {
		h.Response.BadRequest(c, "transcriber_model只接受flash或pro")
		return
	}
	if req.EditorModel != nil && !validTier(*req.EditorModel) {
		h.Response.BadRequest(c, "editor_model只接受flash或pro")
		return
	}

	if req.Translation != nil {
		if err := h.Settings.Set(callerID, "translation", *req.Translation); err != nil {
			h.Response.InternalError(c, "保存设置失败")
			return
		}
	}
	if req.TranscriberModel != nil {
		if err := h.Settings.Set(callerID, "transcriber_model", *req.TranscriberModel); err != nil {
			h.Response.InternalError(c, "保存设置失败")
			return
		}
	}
	if req.EditorModel != nil {
		if err := h.Settings.Set(callerID, "editor_model", *req.EditorModel); err != nil {
			h.Response.InternalError(c, "保存设置失败")
			return
		}
	}
	if req.SystemPrompt != nil {
		if err := h.Settings.Set(callerID, "system_prompt", *req.SystemPrompt); err != nil {
			h.Response.InternalError(c, "保存设置失败")
			return
		}
	}

	h.Response.Success(c, gin.H{
		"caller_id":   callerID,
		"preferences": h.Settings.GetAllFor(callerID),
	}, "设置已更新")
}

// Health 健康检查
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{"status": "ok"})
}

// validTier 校验模型档位取值
func validTier(tier string) bool {
	_, ok := config.Models[tier]
	return ok
}

// parseCallerID 解析十进制调用者ID
func parseCallerID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
