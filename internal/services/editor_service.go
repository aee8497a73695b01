// internal/services/editor_service.go
package services

import (
	"context"
	"log"
	"strings"

	"omni-transcriber/internal/config"
	"omni-transcriber/internal/errors"
	"omni-transcriber/internal/gemini"
	"omni-transcriber/internal/pipeline"
	"omni-transcriber/internal/retry"
)

// userPromptPrefix 用户消息的固定前缀，转写文本跟在其后
const userPromptPrefix = "Here's the transcript:\n\n"

// defaultEditorSystemPrompt 默认的会议纪要整理指令
const defaultEditorSystemPrompt = `You are a professional meeting-minutes generation assistant. Upon receiving the user's raw transcript, output a structured Markdown document according to the following requirements.

## Language Rules
- **Summary and Key Points**: Always output in **Chinese**, regardless of the transcript's language
- **Transcript**: Preserve the **original language** of the speech (do not translate)

## Format

Divide into three sections with level-2 headings:

### 1. Summary (中文)
- No more than 300 Chinese characters
- Capture the main purpose, key decisions, and outcomes

### 2. Key Points (中文)
- Up to 20 concise bullet points
- Focus on actionable items, decisions, and important information

### 3. Transcript (保持原文语言)
- **Correct mistranscriptions**: Fix any clearly erroneous words or phrases based on context (output only the corrected version, do not show original errors)
- **Clean up**: Remove all fillers ("um," "uh," "嗯," "那个"), stammers, repetitions, and meaningless padding
- **Paragraph breaks**: Split by speaker change or natural topic shifts (not by rigid word/sentence counts)

## Content Requirements
- Do **not** add new information or commentary, only refine what's in the original
- Preserve full semantic integrity; do **not** alter facts

## Output Requirements
- Start directly with ` + "`## 📝 Summary`" + `
- Output only the structured Markdown, no explanations, acknowledgments, or dialogue

## Example Structure
` + "```markdown" + `
## 📝 Summary
（用中文总结核心结论，不超过300字）

## ✨ Key Points
- 要点一（中文）
- 要点二（中文）
...

---

## 📄 Transcript
第一段内容，按照说话人或话题自然分段。已经修正了错误转录，去除了口头禅和重复。

第二段内容，保持原文语言输出。如果原文是英文，这里就是英文。

...
` + "```"

// translationPromptAddition 开启翻译模式时追加在系统提示词末尾的指令
const translationPromptAddition = `

## Translation Mode (ENABLED)
Since translation mode is enabled, you must add inline Chinese translations to the Transcript section:

1. **Detect language**: First determine if the transcript is primarily in Chinese
2. **If NOT Chinese**: After each paragraph in the Transcript section, add a blockquote with the Chinese translation
3. **If Chinese**: No translation needed, output normally

### Translation Format
For non-Chinese transcripts, format each paragraph like this:
` + "```" + `
Original paragraph text here.
> 这里是中文翻译。

Next paragraph in original language.
> 下一段的中文翻译。
` + "```" + `

### Translation Requirements
- Translate the meaning accurately, not word-for-word
- Maintain the same paragraph structure
- Use ` + "`> `" + ` (blockquote) for all translations
- Keep translations natural and readable in Chinese`

// EditorService 把原始转写文本整理为结构化Markdown纪要
type EditorService struct {
	client  *gemini.Client
	retryer *retry.Executor
}

// NewEditorService 创建编辑服务
func NewEditorService(client *gemini.Client, retryer *retry.Executor) *EditorService {
	return &EditorService{client: client, retryer: retryer}
}

// Edit 整理转写文本并返回Markdown。
// 系统提示词的拼接顺序固定：先确定基础提示词（覆盖或默认），
// 再在末尾追加翻译指令。
func (s *EditorService) Edit(ctx context.Context, transcript string, modelCfg config.ModelConfig, opts pipeline.EditOptions) (string, error) {
	systemPrompt := defaultEditorSystemPrompt
	if opts.SystemPromptOverride != "" {
		systemPrompt = opts.SystemPromptOverride
	}
	if opts.EnableTranslation {
		systemPrompt += translationPromptAddition
		log.Println("翻译模式已开启")
	}

	result, err := retry.Do(ctx, s.retryer, "Editing", func(ctx context.Context) (string, error) {
		text, genErr := s.client.GenerateContent(ctx, gemini.GenerateRequest{
			Model:             modelCfg.Model,
			SystemInstruction: systemPrompt,
			Prompt:            userPromptPrefix + transcript,
			Temperature:       modelCfg.Temperature,
			ThinkingBudget:    modelCfg.ThinkingBudget(),
		})
		if genErr != nil {
			return "", genErr
		}
		if strings.TrimSpace(text) == "" {
			return "", errors.NewEmptyResultError("Editing returned empty result.")
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("编辑完成，输出长度: %d", len(result))
	return result, nil
}
