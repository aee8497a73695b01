// internal/pipeline/orchestrator.go
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"omni-transcriber/internal/config"
	apperrors "omni-transcriber/internal/errors"
	"omni-transcriber/internal/retry"
	"omni-transcriber/internal/settings"
	"omni-transcriber/internal/sourceurl"
	"omni-transcriber/internal/utils"
)

// 流水线阶段，进度上报与失败定位都以阶段为单位
const (
	StageCreated          = "created"
	StageScratchAllocated = "scratch_allocated"
	StageFetching         = "fetching"
	StageTranscribing     = "transcribing"
	StageReformatting     = "reformatting"
	StageRendering        = "rendering"
	StageSyncing          = "syncing"
	StageDelivering       = "delivering"
	StageCleaned          = "cleaned"
	StageFailed           = "failed"
)

// titlePattern 匹配Markdown一级标题，用于从纪要首行提取文件名
var titlePattern = regexp.MustCompile(`^#\s+(.+)$`)

// titleMaxLength 从标题派生文件名时的最大长度（按rune计）
const titleMaxLength = 30

// UploadScratchPrefix 上传来源任务的工作目录前缀
const UploadScratchPrefix = "audio"

// ScratchPrefixes 列出临时根目录下所有可能出现的工作目录前缀：
// 各URL来源的平台前缀加上传来源前缀。启动清扫与本列表保持一致，
// 新增平台不需要再改动清扫逻辑。
func ScratchPrefixes() []string {
	return append(sourceurl.ScratchPrefixes(), UploadScratchPrefix)
}

// Fetcher 从外部平台拉取音频
type Fetcher interface {
	Fetch(ctx context.Context, desc sourceurl.Descriptor, outputDir string) (string, error)
}

// Transcriber 把音频转写为文本
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, modelCfg config.ModelConfig) (string, error)
}

// EditOptions 编辑调用的可选项
type EditOptions struct {
	SystemPromptOverride string
	EnableTranslation    bool
}

// Editor 把转写文本整理为Markdown纪要
type Editor interface {
	Edit(ctx context.Context, transcript string, modelCfg config.ModelConfig, opts EditOptions) (string, error)
}

// Renderer 把Markdown渲染为PDF
type Renderer interface {
	Render(ctx context.Context, markdownContent, outputPath string) error
}

// Syncer 把产物同步到远端存储（尽力而为）
type Syncer interface {
	EnabledFor(callerID int64) bool
	Sync(ctx context.Context, localPath, remoteName string) bool
}

// Deliverer 把产物从工作目录转移到下发位置。
// Deliver返回后工作目录即被整体删除，实现方必须在返回前完成转移。
type Deliverer interface {
	Deliver(ctx context.Context, jobID string, artifacts Artifacts) error
}

// Upload 调用方直接上传的音频文件
type Upload struct {
	Path         string // 已落盘的临时文件路径
	OriginalName string // 调用方给出的原始文件名（不可信）
}

// Source 任务的输入来源，二者恰好有其一
type Source struct {
	Descriptor *sourceurl.Descriptor
	Upload     *Upload
}

// Request 一次流水线运行的请求
type Request struct {
	ID       string
	CallerID int64
	Source   Source
}

// Artifacts 流水线产物
type Artifacts struct {
	MarkdownPath   string
	PDFPath        string
	BaseName       string
	MarkdownSynced bool // Markdown已同步到远端，下发时可省略
}

// StageError 带阶段信息的流水线错误
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StatusSink 接收阶段变更通知。通知是同步调用，
// 编排器会捕获sink的panic，慢消费者或坏消费者不会影响任务本身。
type StatusSink func(stage, message string)

// Orchestrator 串联整条处理流水线：
// 分配工作目录、拉取音频、转写、整理、渲染、同步、下发、清理。
// 每个任务使用独立的工作目录，任务结束（无论成败）后整体删除。
type Orchestrator struct {
	TempRoot string

	Fetcher     Fetcher
	Transcriber Transcriber
	Editor      Editor
	Renderer    Renderer
	Syncer      Syncer
	Deliverer   Deliverer

	Settings *settings.Store
	Retryer  *retry.Executor

	TranscriberCfg config.ModelConfig
	EditorCfg      config.ModelConfig

	// now 可注入，测试时固定时间以获得确定的文件名
	now func() time.Time
}

// NewOrchestrator 创建流水线编排器
func NewOrchestrator(
	tempRoot string,
	fetcher Fetcher,
	transcriber Transcriber,
	editor Editor,
	renderer Renderer,
	syncer Syncer,
	deliverer Deliverer,
	settingsStore *settings.Store,
	retryer *retry.Executor,
	transcriberCfg, editorCfg config.ModelConfig,
) *Orchestrator {
	return &Orchestrator{
		TempRoot:       tempRoot,
		Fetcher:        fetcher,
		Transcriber:    transcriber,
		Editor:         editor,
		Renderer:       renderer,
		Syncer:         syncer,
		Deliverer:      deliverer,
		Settings:       settingsStore,
		Retryer:        retryer,
		TranscriberCfg: transcriberCfg,
		EditorCfg:      editorCfg,
		now:            time.Now,
	}
}

// Run 执行一次完整的流水线。返回错误时产物不会被下发，
// 工作目录总是在返回前被清理。
func (o *Orchestrator) Run(ctx context.Context, req Request, sink StatusSink) (Artifacts, error) {
	notify := func(stage, message string) {
		if sink == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Printf("状态回调panic（已忽略）: %v", r)
			}
		}()
		sink(stage, message)
	}

	fail := func(stage string, err error) (Artifacts, error) {
		notify(StageFailed, err.Error())
		return Artifacts{}, &StageError{Stage: stage, Err: err}
	}

	// 1. 分配工作目录。目录名带来源前缀便于排查，创建失败直接终止，不重试。
	scratchDir := filepath.Join(o.TempRoot, o.scratchPrefix(req)+"_"+req.ID)
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return fail(StageScratchAllocated, apperrors.NewLocalError("failed to allocate scratch dir", err))
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			log.Printf("警告: 清理工作目录失败 %s: %v", scratchDir, err)
		}
	}()
	notify(StageScratchAllocated, "工作目录已分配")

	// 调用者偏好只在任务开始时读取一次，运行中的修改不影响本次任务
	translation := o.Settings.GetBool(req.CallerID, "translation", false)
	transcriberCfg := o.modelCfgFor(req.CallerID, "transcriber_model", o.TranscriberCfg, config.DefaultTranscriberTier)
	editorCfg := o.modelCfgFor(req.CallerID, "editor_model", o.EditorCfg, config.DefaultEditorTier)

	// 2. 取得音频文件
	notify(StageFetching, "正在获取音频...")
	audioPath, err := o.obtainAudio(ctx, req, scratchDir)
	if err != nil {
		return fail(StageFetching, err)
	}

	// 3. 转写
	notify(StageTranscribing, "正在转写音频...")
	transcript, err := o.Transcriber.Transcribe(ctx, audioPath, transcriberCfg)
	if err != nil {
		return fail(StageTranscribing, err)
	}

	// 4. 整理为Markdown纪要
	notify(StageReformatting, "正在整理文稿...")
	editOpts := EditOptions{
		SystemPromptOverride: o.Settings.GetString(req.CallerID, "system_prompt", ""),
		EnableTranslation:    translation,
	}
	markdownContent, err := o.Editor.Edit(ctx, transcript, editorCfg, editOpts)
	if err != nil {
		return fail(StageReformatting, err)
	}

	baseName := o.deriveBaseName(req, markdownContent)

	markdownPath := filepath.Join(scratchDir, baseName+".md")
	if err := os.WriteFile(markdownPath, []byte(markdownContent), 0644); err != nil {
		return fail(StageReformatting, apperrors.NewLocalError("failed to write markdown", err))
	}

	// 5. 渲染PDF。本地确定性操作，不重试。
	notify(StageRendering, "正在渲染PDF...")
	pdfPath := filepath.Join(scratchDir, baseName+".pdf")
	if err := o.Renderer.Render(ctx, markdownContent, pdfPath); err != nil {
		return fail(StageRendering, err)
	}

	artifacts := Artifacts{
		MarkdownPath: markdownPath,
		PDFPath:      pdfPath,
		BaseName:     baseName,
	}

	// 6. 远端同步（按调用者开关，失败不影响任务）
	if o.Syncer != nil && o.Syncer.EnabledFor(req.CallerID) {
		notify(StageSyncing, "正在同步到远端...")
		artifacts.MarkdownSynced = o.Syncer.Sync(ctx, markdownPath, baseName+".md")
	}

	// 7. 下发
	notify(StageDelivering, "正在交付结果...")
	if err := o.Deliverer.Deliver(ctx, req.ID, artifacts); err != nil {
		return fail(StageDelivering, err)
	}

	notify(StageCleaned, "任务完成")
	return artifacts, nil
}

// scratchPrefix 工作目录的来源前缀
func (o *Orchestrator) scratchPrefix(req Request) string {
	if req.Source.Descriptor != nil {
		return req.Source.Descriptor.ShortPrefix()
	}
	return UploadScratchPrefix
}

// modelCfgFor 按调用者偏好的档位派生模型配置副本
func (o *Orchestrator) modelCfgFor(callerID int64, key string, base config.ModelConfig, defaultTier string) config.ModelConfig {
	tier := o.Settings.GetString(callerID, key, "")
	if tier == "" {
		return base
	}
	return base.WithModel(config.ModelFor(tier, defaultTier))
}

// obtainAudio 把任务输入落为工作目录内的音频文件。
// URL来源走带重试的拉取；上传来源只做一次本地拷贝，不重试。
func (o *Orchestrator) obtainAudio(ctx context.Context, req Request, scratchDir string) (string, error) {
	if desc := req.Source.Descriptor; desc != nil {
		return retry.Do(ctx, o.Retryer, "Download", func(ctx context.Context) (string, error) {
			return o.Fetcher.Fetch(ctx, *desc, scratchDir)
		})
	}

	upload := req.Source.Upload
	if upload == nil {
		return "", apperrors.NewInputError("job has no source", nil)
	}

	// 扩展名来自不可信的原始文件名，先消毒再使用
	ext := filepath.Ext(utils.SanitizeFilename(upload.OriginalName, utils.DefaultMaxBaseLength))
	if ext == "" {
		ext = ".mp3"
	}
	dst := filepath.Join(scratchDir, "input"+ext)
	if err := copyFile(upload.Path, dst); err != nil {
		return "", apperrors.NewLocalError("failed to stage uploaded audio", err)
	}
	return dst, nil
}

// deriveBaseName 决定产物文件名：取纪要中第一处一级标题，
// 没有标题时回退到来源标识，最后统一追加日期戳。
// 标题可以出现在文档任意位置，纪要通常以二级标题的摘要开头。
func (o *Orchestrator) deriveBaseName(req Request, markdownContent string) string {
	var base string

	for _, line := range strings.Split(markdownContent, "\n") {
		if m := titlePattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			base = utils.SanitizeFilename(m[1], titleMaxLength)
			break
		}
	}

	if base == "" {
		base = o.fallbackBaseName(req)
	}

	return base + "_" + o.now().Format("20060102")
}

// fallbackBaseName 纪要没有标题时的文件名来源
func (o *Orchestrator) fallbackBaseName(req Request) string {
	if upload := req.Source.Upload; upload != nil {
		name := utils.SanitizeFilename(upload.OriginalName, titleMaxLength)
		if trimmed := strings.TrimSuffix(name, filepath.Ext(name)); trimmed != "" {
			return trimmed
		}
		return "transcript"
	}
	if desc := req.Source.Descriptor; desc != nil && desc.Platform == sourceurl.PlatformYouTube {
		return desc.ID
	}
	return "transcript"
}

// copyFile 复制文件内容，目标已存在时覆盖
func copyFile(src, dst string) error {
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
	return out.Close()
}
