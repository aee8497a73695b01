// internal/services/transcribe_service.go
package services

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"omni-transcriber/internal/config"
	"omni-transcriber/internal/errors"
	"omni-transcriber/internal/gemini"
	"omni-transcriber/internal/retry"
)

// transcriptionPrompt 发送给模型的转写指令
const transcriptionPrompt = "Transcribe this audio. If the language is Chinese, please use Simplified " +
	"Chinese characters. Provide only the direct transcription text without any " +
	"introductory phrases."

// maxCharRepeats 同一字符连续出现超过此次数即视为模型循环产物
const maxCharRepeats = 10

// audioMimeTypes 扩展名到MIME类型的映射，未知扩展名按mp3处理
var audioMimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// TranscribeService 把本地音频文件转写为纯文本。
// 先上传到Gemini File API，再调用生成接口，最后尽力删除远端文件。
type TranscribeService struct {
	client  *gemini.Client
	retryer *retry.Executor
}

// NewTranscribeService 创建转写服务
func NewTranscribeService(client *gemini.Client, retryer *retry.Executor) *TranscribeService {
	return &TranscribeService{client: client, retryer: retryer}
}

// MimeTypeFor 按文件扩展名返回音频MIME类型
func MimeTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := audioMimeTypes[ext]; ok {
		return mime
	}
	return "audio/mpeg"
}

// Transcribe 转写音频文件并返回清理后的文本
func (s *TranscribeService) Transcribe(ctx context.Context, audioPath string, modelCfg config.ModelConfig) (string, error) {
	mimeType := MimeTypeFor(audioPath)

	log.Printf("开始上传音频到Gemini File API: %s", audioPath)
	uploaded, err := retry.Do(ctx, s.retryer, "File upload", func(ctx context.Context) (*gemini.File, error) {
		return s.client.UploadFile(ctx, audioPath, mimeType)
	})
	if err != nil {
		return "", errors.NewRemoteError("audio upload failed", err)
	}
	log.Printf("音频上传完成: %s", uploaded.Name)

	// 无论转写成败都尽力删除远端文件，失败只记录不影响结果
	defer func() {
		if delErr := s.client.DeleteFile(context.WithoutCancel(ctx), uploaded.Name); delErr != nil {
			log.Printf("警告: 清理远端音频文件失败，文件可能残留: %v", delErr)
		}
	}()

	text, err := retry.Do(ctx, s.retryer, "Transcription", func(ctx context.Context) (string, error) {
		result, genErr := s.client.GenerateContent(ctx, gemini.GenerateRequest{
			Model:          modelCfg.Model,
			Prompt:         transcriptionPrompt,
			FileURI:        uploaded.URI,
			FileMimeType:   uploaded.MimeType,
			Temperature:    modelCfg.Temperature,
			ThinkingBudget: modelCfg.ThinkingBudget(),
		})
		if genErr != nil {
			return "", genErr
		}
		if strings.TrimSpace(result) == "" {
			return "", errors.NewEmptyResultError("Transcription returned empty result.")
		}
		return result, nil
	})
	if err != nil {
		return "", err
	}

	before := len(text)
	text = collapseRepeats(text, maxCharRepeats)
	if removed := before - len(text); removed > 0 {
		log.Printf("已清理 %d 个重复字符", removed)
	}

	return text, nil
}

// collapseRepeats 把同一字符连续出现超过maxRepeats次的片段压缩为单个字符。
// 按rune扫描，多字节字符同样适用。
func collapseRepeats(text string, maxRepeats int) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return text
	}

	var out []rune
	runStart := 0
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) && runes[i] == runes[runStart] {
			continue
		}
		runLen := i - runStart
		if runLen > maxRepeats {
			log.Printf("发现字符 %q 连续重复 %d 次，压缩为单个", string(runes[runStart]), runLen)
			out = append(out, runes[runStart])
		} else {
			out = append(out, runes[runStart:i]...)
		}
		runStart = i
	}
	return string(out)
}
