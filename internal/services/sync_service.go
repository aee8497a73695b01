// internal/services/sync_service.go
package services

import (
	"context"
	"log"
	"strings"

	"omni-transcriber/internal/config"
)

// SyncService 通过rclone把产物同步到远端存储。
// 同步是尽力而为的附加功能：按调用者白名单开启，
// 失败只影响Markdown是否随结果一并下发，绝不让任务失败。
type SyncService struct {
	rclonePath string
	cfg        config.RcloneConfig
	runner     CommandRunner
}

// NewSyncService 创建同步服务
func NewSyncService(rclonePath string, cfg config.RcloneConfig, runner CommandRunner) *SyncService {
	if rclonePath == "" {
		rclonePath = "rclone"
	}
	return &SyncService{rclonePath: rclonePath, cfg: cfg, runner: runner}
}

// EnabledFor 判断指定调用者是否启用了远端同步
func (s *SyncService) EnabledFor(callerID int64) bool {
	return s.cfg.EnabledFor(callerID)
}

// Sync 把本地文件复制到远端，返回是否成功。
// 只记录日志，不向上传播错误。
func (s *SyncService) Sync(ctx context.Context, localPath, remoteName string) bool {
	destination := strings.TrimSuffix(s.cfg.UploadPath, "/") + "/" + remoteName
	log.Printf("正在同步到远端: %s", destination)

	result, err := s.runner.Run(ctx, nil, s.rclonePath, "copyto", localPath, destination)
	if err != nil {
		log.Printf("警告: 远端同步失败: %v", err)
		return false
	}
	if result.ExitCode != 0 {
		log.Printf("警告: rclone退出码 %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
		return false
	}

	log.Printf("远端同步完成: %s", destination)
	return true
}
