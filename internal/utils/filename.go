// internal/utils/filename.go
package utils

import (
	"regexp"
	"strings"
)

// DefaultMaxBaseLength 是清洗后文件名主干的默认长度上限
const DefaultMaxBaseLength = 50

// 允许的文件名字符：字母数字、下划线、CJK统一表意文字、连字符、点。
// 其余一律替换为下划线。
var unsafeFilenameChars = regexp.MustCompile(`[^0-9A-Za-z_\x{4e00}-\x{9fff}.-]`)

// SanitizeFilename 把不可信的文件名规范化为文件系统安全、长度有界的名称。
//
//   - 丢弃所有路径成分，只保留最后一段（防止路径穿越）
//   - 主干和扩展名分别做字符替换
//   - 主干按rune截断到maxBase；截空时回退为 "file"
//
// 该函数是确定性的全函数：任何输入都会产出一个合法名称，绝不报错。
func SanitizeFilename(name string, maxBase int) string {
	if maxBase <= 0 {
		maxBase = DefaultMaxBaseLength
	}

	// 同时斩断正反斜杠路径，只取最后一段
	name = lastPathSegment(name)

	base, ext := splitExt(name)

	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	ext = unsafeFilenameChars.ReplaceAllString(ext, "_")

	if runes := []rune(base); len(runes) > maxBase {
		base = string(runes[:maxBase])
	}

	// 空主干或纯点主干（"."、".."）会产生目录引用，一律回退
	if strings.Trim(base, ".") == "" {
		base = "file"
	}
	// 孤立的点不构成扩展名（".." 拆分后会剩下一个点）
	if ext == "." {
		ext = ""
	}

	return base + ext
}

// lastPathSegment 返回最后一个路径段（'/' 与 '\' 都视为分隔符）
func lastPathSegment(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// splitExt 拆出扩展名。与 filepath.Ext 不同，点开头的隐藏文件
// （如 ".env"）整体视为主干，不视为扩展名。
func splitExt(name string) (base, ext string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}
