// internal/api/router.go
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"omni-transcriber/internal/config"
	"omni-transcriber/internal/di"
	"omni-transcriber/internal/pipeline"
	"omni-transcriber/internal/services"
	"omni-transcriber/internal/settings"
)

// SetupRouter 配置HTTP路由。
// 只从容器获取服务，不创建新实例。
func SetupRouter(cfg *config.Config) (*gin.Engine, error) {
	container := di.GetContainer()

	jobService, ok := container.Get("job").(*services.JobService)
	if !ok {
		return nil, fmt.Errorf("任务服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	settingsStore, ok := container.Get("settings").(*settings.Store)
	if !ok {
		return nil, fmt.Errorf("设置存储未正确初始化")
	}

	orchestrator, ok := container.Get("orchestrator").(*pipeline.Orchestrator)
	if !ok {
		return nil, fmt.Errorf("流水线编排器未正确初始化")
	}

	handler := NewHandler(cfg, jobService, progressService, settingsStore, orchestrator)
	wsHandler := NewWebSocketHandler(progressService)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(RequestIDMiddleware())
	router.Use(CORSMiddleware())

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", handler.Health)

		apiGroup.POST("/jobs", handler.SubmitJob)
		apiGroup.POST("/jobs/upload", handler.UploadJob)
		apiGroup.GET("/jobs/:id", handler.GetJob)
		apiGroup.GET("/jobs/:id/files/:name", handler.DownloadArtifact)

		apiGroup.GET("/callers/:id/preferences", handler.GetPreferences)
		apiGroup.PUT("/callers/:id/preferences", handler.UpdatePreferences)
	}

	router.GET("/ws/jobs/:id", wsHandler.StreamJobProgress)

	return router, nil
}
