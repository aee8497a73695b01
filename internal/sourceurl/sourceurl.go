// internal/sourceurl/sourceurl.go
package sourceurl

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform 表示受支持的媒体来源平台
type Platform string

const (
	PlatformYouTube       Platform = "youtube"
	PlatformBilibili      Platform = "bilibili"
	PlatformApplePodcasts Platform = "apple_podcasts"
)

// Descriptor 描述一个已验证的媒体来源：平台 + 稳定标识符。
// 标识符只会从通过域名白名单校验的URL结构中提取，
// 绝不通过对原始文本的宽松正则扫描获得（那会重新引入域名伪造漏洞）。
type Descriptor struct {
	Platform Platform `json:"platform"`
	ID       string   `json:"id"`
}

// 各平台的域名白名单
var (
	youtubeDomains      = []string{"youtube.com", "youtube-nocookie.com"}
	youtubeShortDomains = []string{"youtu.be"}
	bilibiliDomains     = []string{"bilibili.com"}
	bilibiliShortDomain = "b23.tv"
	podcastsDomain      = "podcasts.apple.com"
)

var (
	youtubeIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	bilibiliBVPattern   = regexp.MustCompile(`^BV[0-9A-Za-z]+$`)
	bilibiliAVPattern   = regexp.MustCompile(`^av[0-9]+$`)
	b23PathPattern      = regexp.MustCompile(`^[0-9A-Za-z]+$`)
	podcastShowPattern  = regexp.MustCompile(`^id([0-9]+)$`)
	numericOnlyPattern  = regexp.MustCompile(`^[0-9]+$`)
)

// Classify 识别文本指向哪个受支持的平台并提取稳定标识符。
// 无法识别时返回 ok=false，绝不回退到对原始文本的子串/正则匹配。
func Classify(text string) (Descriptor, bool) {
	if id, ok := ExtractYouTubeID(text); ok {
		return Descriptor{Platform: PlatformYouTube, ID: id}, true
	}
	if id, ok := ExtractBilibiliID(text); ok {
		return Descriptor{Platform: PlatformBilibili, ID: id}, true
	}
	if id, ok := ExtractApplePodcastsID(text); ok {
		return Descriptor{Platform: PlatformApplePodcasts, ID: id}, true
	}
	return Descriptor{}, false
}

// PlatformOf 按固定优先级（YouTube → Bilibili → Apple Podcasts）返回首个匹配的平台
func PlatformOf(text string) (Platform, bool) {
	desc, ok := Classify(text)
	if !ok {
		return "", false
	}
	return desc.Platform, true
}

// hostMatches 判断host是否等于domain或是它的真子域名。
// 禁止使用子串包含判断：`youtube.com.evil.com` 之类的宿主名必须被拒绝。
func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hostMatchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if hostMatches(host, d) {
			return true
		}
	}
	return false
}

// parseHost 解析URL并返回小写宿主名；解析失败或无宿主名时返回空串
func parseHost(raw string) (*url.URL, string) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, ""
	}
	return parsed, strings.ToLower(parsed.Hostname())
}

// pathSegments 拆分URL路径为非空段
func pathSegments(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// ExtractYouTubeID 从YouTube URL中提取11位视频ID。
//
// 支持的形态：
//   - https://www.youtube.com/watch?v=VIDEO_ID
//   - https://youtu.be/VIDEO_ID
//   - https://www.youtube.com/shorts/VIDEO_ID
//   - https://www.youtube.com/embed/VIDEO_ID
//   - https://www.youtube.com/v/VIDEO_ID
//   - https://www.youtube.com/live/VIDEO_ID
func ExtractYouTubeID(raw string) (string, bool) {
	parsed, host := parseHost(raw)
	if host == "" {
		return "", false
	}

	// 短链接域名：路径第一段即视频ID
	if hostMatchesAny(host, youtubeShortDomains) {
		segs := pathSegments(parsed.Path)
		if len(segs) >= 1 && youtubeIDPattern.MatchString(segs[0]) {
			return segs[0], true
		}
		return "", false
	}

	if !hostMatchesAny(host, youtubeDomains) {
		return "", false
	}

	segs := pathSegments(parsed.Path)

	// /watch?v=VIDEO_ID
	if len(segs) >= 1 && segs[0] == "watch" {
		v := parsed.Query().Get("v")
		if youtubeIDPattern.MatchString(v) {
			return v, true
		}
		return "", false
	}

	// /shorts/、/embed/、/v/、/live/ 形态：ID位于第二个路径段
	if len(segs) >= 2 {
		switch segs[0] {
		case "shorts", "embed", "v", "live":
			if youtubeIDPattern.MatchString(segs[1]) {
				return segs[1], true
			}
		}
	}

	return "", false
}

// ExtractBilibiliID 从Bilibili URL中提取视频ID（BV号或av号），
// 或从b23.tv短链中提取不透明的路径段。
func ExtractBilibiliID(raw string) (string, bool) {
	parsed, host := parseHost(raw)
	if host == "" {
		return "", false
	}

	// b23.tv 短链：路径第一段作为不透明ID
	if hostMatches(host, bilibiliShortDomain) {
		segs := pathSegments(parsed.Path)
		if len(segs) >= 1 && b23PathPattern.MatchString(segs[0]) {
			return segs[0], true
		}
		return "", false
	}

	if !hostMatchesAny(host, bilibiliDomains) {
		return "", false
	}

	// /video/BVxxxx 或 /video/av12345
	segs := pathSegments(parsed.Path)
	if len(segs) >= 2 && segs[0] == "video" {
		id := segs[1]
		if bilibiliBVPattern.MatchString(id) || bilibiliAVPattern.MatchString(id) {
			return id, true
		}
	}

	return "", false
}

// ExtractApplePodcastsID 从Apple Podcasts URL中提取标识符。
// 节目ID来自路径末段的 idNNNN；若查询参数 i 携带数字剧集ID，
// 则组合为 "showID_episodeID"。
func ExtractApplePodcastsID(raw string) (string, bool) {
	parsed, host := parseHost(raw)
	if host == "" {
		return "", false
	}

	if !hostMatches(host, podcastsDomain) {
		return "", false
	}

	segs := pathSegments(parsed.Path)
	var showID string
	for _, seg := range segs {
		if m := podcastShowPattern.FindStringSubmatch(seg); m != nil {
			showID = m[1]
		}
	}
	if showID == "" {
		return "", false
	}

	if episodeID := parsed.Query().Get("i"); numericOnlyPattern.MatchString(episodeID) {
		return showID + "_" + episodeID, true
	}
	return showID, true
}

// ShowEpisodeID 拆分Apple Podcasts标识符为节目ID和可选的剧集ID
func (d Descriptor) ShowEpisodeID() (showID, episodeID string) {
	if d.Platform != PlatformApplePodcasts {
		return "", ""
	}
	parts := strings.SplitN(d.ID, "_", 2)
	showID = parts[0]
	if len(parts) == 2 {
		episodeID = parts[1]
	}
	return showID, episodeID
}

// CanonicalURL 从已验证的标识符重建规范URL。
// 下载器只使用规范URL调用外部工具，原始用户文本不会传入子进程。
func (d Descriptor) CanonicalURL() string {
	switch d.Platform {
	case PlatformYouTube:
		return "https://www.youtube.com/watch?v=" + d.ID
	case PlatformBilibili:
		if bilibiliBVPattern.MatchString(d.ID) || bilibiliAVPattern.MatchString(d.ID) {
			return "https://www.bilibili.com/video/" + d.ID
		}
		return "https://b23.tv/" + d.ID
	case PlatformApplePodcasts:
		showID, episodeID := d.ShowEpisodeID()
		u := "https://podcasts.apple.com/podcast/id" + showID
		if episodeID != "" {
			u += "?i=" + episodeID
		}
		return u
	}
	return ""
}

// ShortPrefix 返回用于临时目录命名的平台前缀
func (d Descriptor) ShortPrefix() string {
	switch d.Platform {
	case PlatformYouTube:
		return "yt"
	case PlatformBilibili:
		return "bili"
	case PlatformApplePodcasts:
		return "pod"
	}
	return "media"
}

// allPlatforms 所有受支持的平台，新增平台时同步补充
var allPlatforms = []Platform{PlatformYouTube, PlatformBilibili, PlatformApplePodcasts}

// ScratchPrefixes 返回所有URL来源可能使用的临时目录前缀，
// 含未知来源的兜底前缀。启动清扫据此识别残留目录。
func ScratchPrefixes() []string {
	prefixes := make([]string, 0, len(allPlatforms)+1)
	for _, p := range allPlatforms {
		prefixes = append(prefixes, Descriptor{Platform: p}.ShortPrefix())
	}
	return append(prefixes, Descriptor{}.ShortPrefix())
}
