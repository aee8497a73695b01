// internal/services/pdf_service_test.go
package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner 记录调用并按脚本返回结果
type fakeRunner struct {
	calls []fakeCall
	// createOutput 为真时在最后一个参数的路径创建文件
	createOutput bool
	result       CommandResult
	err          error
}

type fakeCall struct {
	stdin []byte
	name  string
	args  []string
}

func (f *fakeRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) (CommandResult, error) {
	f.calls = append(f.calls, fakeCall{stdin: stdin, name: name, args: args})
	if f.err != nil {
		return CommandResult{}, f.err
	}
	if f.createOutput && len(args) > 0 {
		if err := os.WriteFile(args[len(args)-1], []byte("%PDF"), 0644); err != nil {
			return CommandResult{}, err
		}
	}
	return f.result, nil
}

// TestRenderSanitizesRemoteReferences 外部引用在进入渲染器前被剥离
func TestRenderSanitizesRemoteReferences(t *testing.T) {
	runner := &fakeRunner{createOutput: true}
	svc := NewPDFService("wkhtmltopdf", runner, 1)

	markdown := "# 标题\n\n" +
		"![外链图片](https://evil.example.com/x.png)\n\n" +
		"![内嵌图片](data:image/png;base64,iVBORw0KGgo=)\n\n" +
		"<script>alert(1)</script>\n\n" +
		"<img src=\"file:///etc/passwd\">\n\n正文段落"

	outputPath := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, svc.Render(context.Background(), markdown, outputPath))

	require.Len(t, runner.calls, 1)
	html := string(runner.calls[0].stdin)

	assert.NotContains(t, html, "evil.example.com")
	assert.NotContains(t, html, "file:///etc/passwd")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "data:image/png;base64")
	assert.Contains(t, html, "正文段落")
}

// TestRenderCommandArguments 渲染器以受限参数运行，HTML从stdin读入
func TestRenderCommandArguments(t *testing.T) {
	runner := &fakeRunner{createOutput: true}
	svc := NewPDFService("/usr/bin/wkhtmltopdf", runner, 1)

	outputPath := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, svc.Render(context.Background(), "# 标题", outputPath))

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "/usr/bin/wkhtmltopdf", call.name)
	assert.Contains(t, call.args, "--disable-local-file-access")
	assert.Contains(t, call.args, "--disable-javascript")
	assert.Contains(t, call.args, "-")
	assert.Equal(t, outputPath, call.args[len(call.args)-1])
}

// TestRenderNonZeroExit 非零退出码视为失败
func TestRenderNonZeroExit(t *testing.T) {
	runner := &fakeRunner{result: CommandResult{ExitCode: 1, Stderr: "渲染错误"}}
	svc := NewPDFService("wkhtmltopdf", runner, 1)

	err := svc.Render(context.Background(), "# 标题", filepath.Join(t.TempDir(), "out.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
}

// TestRenderMissingOutput 退出码为零但没有产出文件同样失败
func TestRenderMissingOutput(t *testing.T) {
	runner := &fakeRunner{createOutput: false}
	svc := NewPDFService("wkhtmltopdf", runner, 1)

	err := svc.Render(context.Background(), "# 标题", filepath.Join(t.TempDir(), "out.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output file")
}

// TestRenderGFMTables 表格扩展生效
func TestRenderGFMTables(t *testing.T) {
	runner := &fakeRunner{createOutput: true}
	svc := NewPDFService("wkhtmltopdf", runner, 1)

	markdown := "| 列一 | 列二 |\n| --- | --- |\n| 甲 | 乙 |"
	require.NoError(t, svc.Render(context.Background(), markdown, filepath.Join(t.TempDir(), "out.pdf")))

	html := string(runner.calls[0].stdin)
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "甲")
}
