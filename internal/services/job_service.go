// internal/services/job_service.go
package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "omni-transcriber/internal/errors"
	"omni-transcriber/internal/pipeline"
)

// Job 一次转写任务的完整状态
type Job struct {
	ID        string     `json:"id"`
	CallerID  int64      `json:"caller_id"`
	Status    string     `json:"status"` // running, completed, failed
	Stage     string     `json:"stage"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// 任务完成后可下载的产物文件名
	Files          []string `json:"files,omitempty"`
	MarkdownSynced bool     `json:"markdown_synced,omitempty"`
}

// JobService 维护任务登记表，并实现产物下发：
// 流水线结束前把产物从工作目录搬进任务专属的outbox目录，
// outbox由定期回收器按保留时长清理。
type JobService struct {
	outboxDir string
	retention time.Duration
	progress  *ProgressService

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobService 创建任务服务。retention为产物在outbox中的保留时长。
func NewJobService(outboxDir string, retention time.Duration, progress *ProgressService) *JobService {
	return &JobService{
		outboxDir: outboxDir,
		retention: retention,
		progress:  progress,
		jobs:      make(map[string]*Job),
	}
}

// Create 登记新任务并创建进度跟踪器
func (s *JobService) Create(jobID string, callerID int64) *Job {
	job := &Job{
		ID:        jobID,
		CallerID:  callerID,
		Status:    "running",
		Stage:     pipeline.StageCreated,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()

	s.progress.CreateTracker(jobID)
	return job
}

// Get 按ID查询任务，返回副本
func (s *JobService) Get(jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, apperrors.NewNotFoundError("job not found")
	}
	return *job, nil
}

// SetStage 更新任务当前阶段并转发到进度跟踪器
func (s *JobService) SetStage(jobID, stage, message string) {
	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok && job.Status == "running" && stage != pipeline.StageFailed {
		job.Stage = stage
	}
	s.mu.Unlock()

	if tracker, ok := s.progress.GetTracker(jobID); ok && stage != pipeline.StageFailed {
		tracker.EnterStage(stage, message)
	}
}

// MarkCompleted 标记任务成功结束
func (s *JobService) MarkCompleted(jobID string, artifacts pipeline.Artifacts) {
	now := time.Now()

	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok {
		job.Status = "completed"
		job.Stage = pipeline.StageCleaned
		job.EndedAt = &now
		job.MarkdownSynced = artifacts.MarkdownSynced

		job.Files = nil
		if !artifacts.MarkdownSynced {
			job.Files = append(job.Files, artifacts.BaseName+".md")
		}
		job.Files = append(job.Files, artifacts.BaseName+".pdf")
	}
	s.mu.Unlock()

	if tracker, ok := s.progress.GetTracker(jobID); ok {
		message := "任务完成"
		if artifacts.MarkdownSynced {
			message = "任务完成（Markdown已同步到远端）"
		}
		tracker.Complete(message)
	}
}

// MarkFailed 标记任务失败
func (s *JobService) MarkFailed(jobID string, err error) {
	now := time.Now()

	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok {
		job.Status = "failed"
		job.Stage = pipeline.StageFailed
		job.Error = err.Error()
		job.EndedAt = &now
	}
	s.mu.Unlock()

	if tracker, ok := s.progress.GetTracker(jobID); ok {
		tracker.Fail(err.Error())
	}
}

// Deliver 实现pipeline.Deliverer：把产物搬进任务专属的outbox目录。
// 已同步到远端的Markdown不再下发，只搬PDF。
func (s *JobService) Deliver(ctx context.Context, jobID string, artifacts pipeline.Artifacts) error {
	jobDir := filepath.Join(s.outboxDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return apperrors.NewLocalError("failed to create outbox dir", err)
	}

	paths := []string{artifacts.PDFPath}
	if !artifacts.MarkdownSynced {
		paths = append(paths, artifacts.MarkdownPath)
	}

	for _, src := range paths {
		dst := filepath.Join(jobDir, filepath.Base(src))
		if err := moveFile(src, dst); err != nil {
			return apperrors.NewLocalError(fmt.Sprintf("failed to deliver %s", filepath.Base(src)), err)
		}
	}

	return nil
}

// ArtifactPath 返回outbox中某个产物的路径。
// 文件名经过严格校验，拒绝任何路径穿越尝试。
func (s *JobService) ArtifactPath(jobID, name string) (string, error) {
	job, err := s.Get(jobID)
	if err != nil {
		return "", err
	}
	if job.Status != "completed" {
		return "", apperrors.NewNotFoundError("job has no artifacts")
	}

	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", apperrors.NewInputError("invalid artifact name", nil)
	}

	found := false
	for _, f := range job.Files {
		if f == name {
			found = true
			break
		}
	}
	if !found {
		return "", apperrors.NewNotFoundError("artifact not found")
	}

	path := filepath.Join(s.outboxDir, jobID, name)
	if _, err := os.Stat(path); err != nil {
		return "", apperrors.NewNotFoundError("artifact expired")
	}
	return path, nil
}

// StartReaper 启动outbox回收器，按保留时长清理过期任务的产物。
// ctx取消后退出。
func (s *JobService) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reapExpired()
				s.progress.CleanupCompletedTasks(s.retention)
			}
		}
	}()
}

// reapExpired 删除超过保留时长的任务目录与登记项
func (s *JobService) reapExpired() {
	now := time.Now()

	s.mu.Lock()
	var expired []string
	for id, job := range s.jobs {
		if job.EndedAt != nil && now.Sub(*job.EndedAt) > s.retention {
			expired = append(expired, id)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		dir := filepath.Join(s.outboxDir, id)
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("警告: 清理过期产物失败 %s: %v", dir, err)
			continue
		}
		log.Printf("已清理过期任务产物: %s", id)
	}
}

// PurgeScratchDirs 删除临时根目录下残留的工作目录。
// 进程异常退出会留下孤儿目录，启动时统一清扫。
func PurgeScratchDirs(tempRoot string) {
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("警告: 读取临时目录失败 %s: %v", tempRoot, err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, prefix := range pipeline.ScratchPrefixes() {
			if strings.HasPrefix(name, prefix+"_") {
				path := filepath.Join(tempRoot, name)
				if err := os.RemoveAll(path); err != nil {
					log.Printf("警告: 清理残留工作目录失败 %s: %v", path, err)
				} else {
					log.Printf("已清理残留工作目录: %s", path)
				}
				break
			}
		}
	}
}

// moveFile 把文件移动到目标路径，跨文件系统时退化为复制加删除
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
