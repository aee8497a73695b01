// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"omni-transcriber/internal/config"
	"omni-transcriber/internal/di"
	"omni-transcriber/internal/gemini"
	"omni-transcriber/internal/pipeline"
	"omni-transcriber/internal/retry"
	"omni-transcriber/internal/services"
	"omni-transcriber/internal/settings"
)

// 产物保留与回收参数
const (
	artifactRetention = 24 * time.Hour
	reaperInterval    = 10 * time.Minute
	maxPDFConcurrent  = 2
)

// InitServices 按依赖顺序创建并注册所有服务。
// ctx控制后台回收器的生命周期。
func InitServices(ctx context.Context, cfg *config.Config) error {
	container := di.GetContainer()

	// 进程异常退出会留下孤儿工作目录，启动时统一清扫
	services.PurgeScratchDirs(cfg.TempDir)

	// 基础设施
	runner := services.NewCommandRunner()
	retryer := retry.NewExecutor()
	geminiClient := gemini.NewClient(cfg.GeminiAPIKey)

	// 调用者偏好存储
	settingsStore := settings.NewStore(filepath.Join(cfg.DataDir, "settings.json"))
	if err := settingsStore.Init(); err != nil {
		return fmt.Errorf("初始化设置存储失败: %w", err)
	}
	container.Register("settings", settingsStore)

	// 进度与任务
	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	outboxDir := filepath.Join(cfg.DataDir, "outbox")
	jobService := services.NewJobService(outboxDir, artifactRetention, progressService)
	jobService.StartReaper(ctx, reaperInterval)
	container.Register("job", jobService)

	// 流水线各环节
	downloadService := services.NewDownloadService(cfg.YTDLPPath, runner)
	container.Register("download", downloadService)

	transcribeService := services.NewTranscribeService(geminiClient, retryer)
	container.Register("transcribe", transcribeService)

	editorService := services.NewEditorService(geminiClient, retryer)
	container.Register("editor", editorService)

	pdfService := services.NewPDFService(cfg.WKHTMLTOPDFPath, runner, maxPDFConcurrent)
	container.Register("pdf", pdfService)

	syncService := services.NewSyncService("rclone", cfg.Rclone, runner)
	container.Register("sync", syncService)

	// 编排器把所有环节串起来
	orchestrator := pipeline.NewOrchestrator(
		cfg.TempDir,
		downloadService,
		transcribeService,
		editorService,
		pdfService,
		syncService,
		jobService,
		settingsStore,
		retryer,
		cfg.Transcriber,
		cfg.Editor,
	)
	container.Register("orchestrator", orchestrator)

	return nil
}
