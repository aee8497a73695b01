// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型，对应各处理阶段不同的失败策略
type ErrorType string

const (
	// ErrorTypeInput 输入错误：无法识别的来源、畸形上传。立即上报，不重试。
	ErrorTypeInput ErrorType = "input_error"
	// ErrorTypeRemote 瞬态远程错误：下载/转写/编辑期间的网络或后端故障。可重试。
	ErrorTypeRemote ErrorType = "remote_error"
	// ErrorTypeEmptyResult 空结果错误：后端调用成功但没有产出可用内容。与远程错误同等对待，可重试。
	ErrorTypeEmptyResult ErrorType = "empty_result"
	// ErrorTypeLocal 确定性本地错误：渲染/文件系统失败。不重试，立即上报。
	ErrorTypeLocal ErrorType = "local_error"
	// ErrorTypeNotFound 资源不存在
	ErrorTypeNotFound ErrorType = "not_found"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInputError 创建输入错误
func NewInputError(message string, originalError error) *AppError {
	return &AppError{Type: ErrorTypeInput, Message: message, Err: originalError}
}

// NewRemoteError 创建瞬态远程错误
func NewRemoteError(message string, originalError error) *AppError {
	return &AppError{Type: ErrorTypeRemote, Message: message, Err: originalError}
}

// NewEmptyResultError 创建空结果错误
func NewEmptyResultError(message string) *AppError {
	return &AppError{Type: ErrorTypeEmptyResult, Message: message}
}

// NewLocalError 创建确定性本地错误
func NewLocalError(message string, originalError error) *AppError {
	return &AppError{Type: ErrorTypeLocal, Message: message, Err: originalError}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// TypeOf 返回错误链上首个AppError的类型；链上没有AppError时归类为本地错误
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeLocal
}

// IsInput 判断是否为输入错误
func IsInput(err error) bool {
	return TypeOf(err) == ErrorTypeInput
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}
