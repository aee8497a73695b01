// internal/sourceurl/sourceurl_test.go
package sourceurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExtractYouTubeID 测试YouTube链接各形态的ID提取
func TestExtractYouTubeID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		id   string
		ok   bool
	}{
		{"标准watch链接", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"无www前缀", "https://youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"短链接", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"shorts", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"live", "https://www.youtube.com/live/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"带额外参数", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", true},
		{"nocookie域名", "https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"ID长度不足", "https://www.youtube.com/watch?v=short", "", false},
		{"ID含非法字符", "https://youtu.be/dQw4w9WgXc!", "", false},
		{"无v参数", "https://www.youtube.com/watch", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ExtractYouTubeID(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

// TestDomainSpoofing 域名伪造必须被拒绝：
// 平台域名作为路径、子串或上级域名出现都不算数
func TestDomainSpoofing(t *testing.T) {
	spoofed := []string{
		"https://evil.com/youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com.evil.com/watch?v=dQw4w9WgXcQ",
		"https://notyoutube.com/watch?v=dQw4w9WgXcQ",
		"https://evil.com/?u=youtube.com",
		"https://bilibili.com.evil.com/video/BV1xx411c7mD",
		"https://fakeb23.tv/abc123",
		"https://podcasts.apple.com.evil.com/us/podcast/id123456",
	}

	for _, url := range spoofed {
		_, ok := Classify(url)
		assert.False(t, ok, "伪造域名应被拒绝: %s", url)
	}
}

// TestExtractBilibiliID 测试Bilibili链接的ID提取
func TestExtractBilibiliID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		id   string
		ok   bool
	}{
		{"BV号", "https://www.bilibili.com/video/BV1xx411c7mD", "BV1xx411c7mD", true},
		{"av号", "https://www.bilibili.com/video/av170001", "av170001", true},
		{"b23短链", "https://b23.tv/abc123XY", "abc123XY", true},
		{"带查询参数", "https://www.bilibili.com/video/BV1xx411c7mD?p=2", "BV1xx411c7mD", true},
		{"非video路径", "https://www.bilibili.com/read/cv123456", "", false},
		{"非法ID", "https://www.bilibili.com/video/xyz", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ExtractBilibiliID(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

// TestExtractApplePodcastsID 测试Apple Podcasts链接的ID提取
func TestExtractApplePodcastsID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		id   string
		ok   bool
	}{
		{"仅节目", "https://podcasts.apple.com/us/podcast/some-show/id123456", "123456", true},
		{"节目加单集", "https://podcasts.apple.com/us/podcast/some-show/id123456?i=7890", "123456_7890", true},
		{"单集参数非数字", "https://podcasts.apple.com/us/podcast/some-show/id123456?i=abc", "123456", true},
		{"无id段", "https://podcasts.apple.com/us/podcast/some-show", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ExtractApplePodcastsID(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

// TestClassifyPriority 多平台判定按固定顺序，YouTube优先
func TestClassifyPriority(t *testing.T) {
	desc, ok := Classify("https://youtu.be/dQw4w9WgXcQ")
	require.True(t, ok)
	assert.Equal(t, PlatformYouTube, desc.Platform)

	desc, ok = Classify("https://b23.tv/xyz789")
	require.True(t, ok)
	assert.Equal(t, PlatformBilibili, desc.Platform)

	_, ok = Classify("随便一段文字")
	assert.False(t, ok)

	_, ok = Classify("https://example.com/watch?v=dQw4w9WgXcQ")
	assert.False(t, ok)
}

// TestCanonicalURL 规范URL由已验证的ID重建
func TestCanonicalURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Descriptor{Platform: PlatformYouTube, ID: "dQw4w9WgXcQ"}.CanonicalURL())
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7mD",
		Descriptor{Platform: PlatformBilibili, ID: "BV1xx411c7mD"}.CanonicalURL())
	assert.Equal(t, "https://b23.tv/abc123",
		Descriptor{Platform: PlatformBilibili, ID: "abc123"}.CanonicalURL())
	assert.Equal(t, "https://podcasts.apple.com/podcast/id123456?i=7890",
		Descriptor{Platform: PlatformApplePodcasts, ID: "123456_7890"}.CanonicalURL())
}

// TestShowEpisodeID 播客标识符的拆分
func TestShowEpisodeID(t *testing.T) {
	show, episode := Descriptor{Platform: PlatformApplePodcasts, ID: "123456_7890"}.ShowEpisodeID()
	assert.Equal(t, "123456", show)
	assert.Equal(t, "7890", episode)

	show, episode = Descriptor{Platform: PlatformApplePodcasts, ID: "123456"}.ShowEpisodeID()
	assert.Equal(t, "123456", show)
	assert.Empty(t, episode)
}

// TestShortPrefix 工作目录前缀
func TestShortPrefix(t *testing.T) {
	assert.Equal(t, "yt", Descriptor{Platform: PlatformYouTube}.ShortPrefix())
	assert.Equal(t, "bili", Descriptor{Platform: PlatformBilibili}.ShortPrefix())
	assert.Equal(t, "pod", Descriptor{Platform: PlatformApplePodcasts}.ShortPrefix())
}
