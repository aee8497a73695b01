// internal/services/command_runner.go
package services

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandResult 一次子进程执行的产出
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner 抽象子进程执行，便于在测试中用假实现替换
// yt-dlp、wkhtmltopdf、rclone等外部工具
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (CommandResult, error)
}

// execRunner 基于os/exec的真实实现
type execRunner struct{}

// NewCommandRunner 创建真实的子进程执行器
func NewCommandRunner() CommandRunner {
	return &execRunner{}
}

// Run 执行命令并等待结束。非零退出码不视为error，
// 由调用方结合ExitCode和Stderr自行判断。
func (r *execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// 进程根本没跑起来（找不到可执行文件、上下文取消等）
		return result, err
	}

	return result, nil
}
