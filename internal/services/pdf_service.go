// internal/services/pdf_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	apperrors "omni-transcriber/internal/errors"
)

// pdfStylesheet 渲染用样式，字体栈覆盖中日韩字形
const pdfStylesheet = `
@page {
    size: A4;
    margin: 2cm;
}

body {
    font-family: "Noto Sans CJK SC", "PingFang SC", "Hiragino Sans GB",
                 "Microsoft YaHei", "WenQuanYi Micro Hei", sans-serif;
    font-size: 12pt;
    line-height: 1.6;
    color: #333;
}

h1 {
    font-size: 24pt;
    color: #1a1a1a;
    border-bottom: 2px solid #333;
    padding-bottom: 0.3em;
    margin-top: 1em;
}

h2 {
    font-size: 18pt;
    color: #2a2a2a;
    border-bottom: 1px solid #ccc;
    padding-bottom: 0.2em;
    margin-top: 1.5em;
}

h3 {
    font-size: 14pt;
    color: #3a3a3a;
    margin-top: 1em;
}

p {
    margin: 0.8em 0;
    text-align: justify;
}

ul, ol {
    margin: 0.5em 0;
    padding-left: 1.5em;
}

li {
    margin: 0.3em 0;
}

hr {
    border: none;
    border-top: 1px solid #ddd;
    margin: 1.5em 0;
}

code {
    font-family: "Fira Code", "Source Code Pro", "Consolas", monospace;
    background-color: #f5f5f5;
    padding: 0.2em 0.4em;
    border-radius: 3px;
    font-size: 0.9em;
}

pre {
    background-color: #f5f5f5;
    padding: 1em;
    border-radius: 5px;
    overflow-x: auto;
    font-size: 0.9em;
}

blockquote {
    border-left: 4px solid #ddd;
    margin: 1em 0;
    padding-left: 1em;
    color: #666;
}

table {
    border-collapse: collapse;
    margin: 1em 0;
}

th, td {
    border: 1px solid #ccc;
    padding: 0.4em 0.8em;
}
`

// PDFService 把Markdown渲染为PDF文件。
// 渲染链路：goldmark生成HTML，bluemonday剥离一切外部引用，
// 再交给wkhtmltopdf子进程（禁用本地文件访问与JavaScript）输出PDF。
// 渲染器只消费流水线内部产物，不允许触网也不允许读取沙箱外的文件。
type PDFService struct {
	wkhtmltopdfPath string
	runner          CommandRunner
	markdown        goldmark.Markdown
	sanitizer       *bluemonday.Policy
	// sem 限制并发渲染数量，wkhtmltopdf内存占用较大
	sem chan struct{}
}

// NewPDFService 创建PDF渲染服务
func NewPDFService(wkhtmltopdfPath string, runner CommandRunner, maxConcurrent int) *PDFService {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &PDFService{
		wkhtmltopdfPath: wkhtmltopdfPath,
		runner:          runner,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		sanitizer: newSanitizerPolicy(),
		sem:       make(chan struct{}, maxConcurrent),
	}
}

// newSanitizerPolicy 构建只允许内嵌内容的HTML净化策略。
// 从空策略出发逐项放行常规排版元素；图片仅允许data: URI，
// 任何http/https/file引用都会被剥掉。
func newSanitizerPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"em", "strong", "del", "s",
		"table", "thead", "tbody", "tr", "th", "td",
	)
	p.AllowAttrs("align").OnElements("th", "td", "p")

	p.AllowImages()
	p.AllowURLSchemes("data")
	p.AllowDataURIImages()

	return p
}

// Render 把Markdown渲染为outputPath处的PDF。
// 本地确定性操作，失败不重试。
func (s *PDFService) Render(ctx context.Context, markdownContent, outputPath string) error {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Println("开始渲染PDF...")

	var htmlBody bytes.Buffer
	if err := s.markdown.Convert([]byte(markdownContent), &htmlBody); err != nil {
		return apperrors.NewLocalError("markdown conversion failed", err)
	}

	sanitized := s.sanitizer.SanitizeBytes(htmlBody.Bytes())

	fullHTML := fmt.Sprintf(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="UTF-8">
<title>Transcript</title>
<style>%s</style>
</head>
<body>
%s
</body>
</html>
`, pdfStylesheet, sanitized)

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperrors.NewLocalError("failed to create output directory", err)
		}
	}

	args := []string{
		"-q",
		"--disable-local-file-access",
		"--disable-javascript",
		"--encoding", "utf-8",
		"-", // HTML从stdin读入
		outputPath,
	}

	result, err := s.runner.Run(ctx, []byte(fullHTML), s.wkhtmltopdfPath, args...)
	if err != nil {
		return apperrors.NewLocalError("failed to run PDF renderer", err)
	}
	if result.ExitCode != 0 {
		return apperrors.NewLocalError(
			fmt.Sprintf("PDF renderer exited with code %d", result.ExitCode),
			fmt.Errorf("%s", strings.TrimSpace(result.Stderr)))
	}

	// 退出码为零但文件缺失同样视为失败
	if _, err := os.Stat(outputPath); err != nil {
		return apperrors.NewLocalError("PDF renderer produced no output file", err)
	}

	log.Printf("PDF已生成: %s", outputPath)
	return nil
}
