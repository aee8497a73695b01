// internal/utils/filename_test.go
package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSanitizeFilename 文件名清洗的常规与对抗用例
func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"普通文件名", "meeting.mp3", "meeting.mp3"},
		{"空格替换", "my file.mp3", "my_file.mp3"},
		{"中文保留", "产品评审会议.mp3", "产品评审会议.mp3"},
		{"路径穿越", "../../etc/passwd", "passwd"},
		{"Windows路径", `C:\Users\x\evil.mp3`, "evil.mp3"},
		{"特殊字符", "a/b:c*d?.mp3", "b_c_d_.mp3"},
		{"空输入", "", "file"},
		{"纯点", "..", "file"},
		{"隐藏文件整体视为主干", ".env", ".env"},
		{"emoji替换", "voice🎙note.m4a", "voice_note.m4a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input, DefaultMaxBaseLength)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "/")
			assert.NotContains(t, got, `\`)
		})
	}
}

// TestSanitizeFilenameTruncation 主干按rune截断，扩展名保留
func TestSanitizeFilenameTruncation(t *testing.T) {
	long := strings.Repeat("字", 100) + ".mp3"
	got := SanitizeFilename(long, 30)
	assert.Equal(t, strings.Repeat("字", 30)+".mp3", got)

	// ASCII同样截断
	got = SanitizeFilename(strings.Repeat("a", 80), 50)
	assert.Equal(t, strings.Repeat("a", 50), got)
}

// TestSanitizeFilenameNeverDirRef 任何输入都不会产出目录引用
func TestSanitizeFilenameNeverDirRef(t *testing.T) {
	for _, input := range []string{".", "..", "...", "/", "//", `\..\`, "a/.."} {
		got := SanitizeFilename(input, DefaultMaxBaseLength)
		assert.NotEqual(t, ".", got)
		assert.NotEqual(t, "..", got)
		assert.NotEmpty(t, got)
	}
}
