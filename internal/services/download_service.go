// internal/services/download_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/gofeed"

	"omni-transcriber/internal/errors"
	"omni-transcriber/internal/sourceurl"
)

// audioExtCandidates yt-dlp转码后可能的扩展名，按优先级排列
var audioExtCandidates = []string{"mp3", "m4a", "webm", "opus", "wav"}

// DownloadService 负责从外部平台获取音频文件。
// 视频站走yt-dlp子进程，播客走iTunes目录查询加RSS解析后直接HTTP下载。
// 子进程只接收由校验过的ID重建的规范URL，原始用户输入绝不进入命令行。
type DownloadService struct {
	ytdlpPath     string
	runner        CommandRunner
	httpClient    *http.Client
	lookupBaseURL string
	feedParser    *gofeed.Parser
}

// NewDownloadService 创建下载服务
func NewDownloadService(ytdlpPath string, runner CommandRunner) *DownloadService {
	return &DownloadService{
		ytdlpPath:     ytdlpPath,
		runner:        runner,
		httpClient:    &http.Client{},
		lookupBaseURL: "https://itunes.apple.com/lookup",
		feedParser:    gofeed.NewParser(),
	}
}

// NewDownloadServiceForTests 创建可注入HTTP客户端与查询端点的下载服务
func NewDownloadServiceForTests(ytdlpPath string, runner CommandRunner, httpClient *http.Client, lookupBaseURL string) *DownloadService {
	svc := NewDownloadService(ytdlpPath, runner)
	if httpClient != nil {
		svc.httpClient = httpClient
		svc.feedParser.Client = httpClient
	}
	if lookupBaseURL != "" {
		svc.lookupBaseURL = lookupBaseURL
	}
	return svc
}

// Fetch 把来源描述符指向的音频拉取到outputDir，返回本地文件路径
func (s *DownloadService) Fetch(ctx context.Context, desc sourceurl.Descriptor, outputDir string) (string, error) {
	switch desc.Platform {
	case sourceurl.PlatformYouTube, sourceurl.PlatformBilibili:
		return s.fetchWithYTDLP(ctx, desc, outputDir)
	case sourceurl.PlatformApplePodcasts:
		return s.fetchPodcast(ctx, desc, outputDir)
	default:
		return "", errors.NewInputError(fmt.Sprintf("unsupported platform: %s", desc.Platform), nil)
	}
}

// fetchWithYTDLP 用yt-dlp抓取最佳音轨并转码为mp3。
// 输出模板固定为 <id>.%(ext)s，完成后按候选扩展名查找实际文件；
// 即使子进程退出码为零，文件缺失也视为失败。
func (s *DownloadService) fetchWithYTDLP(ctx context.Context, desc sourceurl.Descriptor, outputDir string) (string, error) {
	outputTemplate := filepath.Join(outputDir, desc.ID+".%(ext)s")

	args := []string{
		"-f", "bestaudio",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "128K",
		"--no-playlist",
		"-o", outputTemplate,
		desc.CanonicalURL(),
	}

	result, err := s.runner.Run(ctx, nil, s.ytdlpPath, args...)
	if err != nil {
		return "", errors.NewRemoteError("failed to run downloader", err)
	}
	if result.ExitCode != 0 {
		return "", errors.NewRemoteError(
			fmt.Sprintf("downloader exited with code %d", result.ExitCode),
			fmt.Errorf("%s", strings.TrimSpace(result.Stderr)))
	}

	for _, ext := range audioExtCandidates {
		candidate := filepath.Join(outputDir, desc.ID+"."+ext)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}

	return "", errors.NewRemoteError("downloader produced no audio file", nil)
}

// lookupResult iTunes目录查询响应中本服务关心的字段
type lookupResult struct {
	Results []struct {
		Kind       string `json:"kind"`
		EpisodeURL string `json:"episodeUrl"`
		FeedURL    string `json:"feedUrl"`
	} `json:"results"`
}

// fetchPodcast 解析Apple Podcasts来源并下载音频。
// 单集ID直接取episodeUrl；只有节目ID时取feedUrl，
// 解析RSS后取最新一集的enclosure。
func (s *DownloadService) fetchPodcast(ctx context.Context, desc sourceurl.Descriptor, outputDir string) (string, error) {
	showID, episodeID := desc.ShowEpisodeID()

	queryID := showID
	if episodeID != "" {
		queryID = episodeID
	}

	lookup, err := s.lookup(ctx, queryID)
	if err != nil {
		return "", err
	}

	var audioURL string
	if episodeID != "" {
		for _, item := range lookup.Results {
			if item.EpisodeURL != "" {
				audioURL = item.EpisodeURL
				break
			}
		}
		if audioURL == "" {
			return "", errors.NewRemoteError("podcast episode has no audio URL", nil)
		}
	} else {
		var feedURL string
		for _, item := range lookup.Results {
			if item.FeedURL != "" {
				feedURL = item.FeedURL
				break
			}
		}
		if feedURL == "" {
			return "", errors.NewRemoteError("podcast show has no feed URL", nil)
		}
		audioURL, err = s.newestEnclosure(ctx, feedURL)
		if err != nil {
			return "", err
		}
	}

	outputPath := filepath.Join(outputDir, desc.ID+".mp3")
	if err := s.downloadTo(ctx, audioURL, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// lookup 查询iTunes目录
func (s *DownloadService) lookup(ctx context.Context, id string) (*lookupResult, error) {
	apiURL := fmt.Sprintf("%s?id=%s&entity=podcastEpisode", s.lookupBaseURL, url.QueryEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewRemoteError("podcast lookup failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewRemoteError(fmt.Sprintf("podcast lookup returned status %d", resp.StatusCode), nil)
	}

	var result lookupResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewRemoteError("podcast lookup returned malformed response", err)
	}
	if len(result.Results) == 0 {
		return nil, errors.NewRemoteError("podcast not found in directory", nil)
	}
	return &result, nil
}

// newestEnclosure 解析RSS并返回最新一集的音频地址
func (s *DownloadService) newestEnclosure(ctx context.Context, feedURL string) (string, error) {
	feed, err := s.feedParser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return "", errors.NewRemoteError("failed to parse podcast feed", err)
	}

	for _, item := range feed.Items {
		for _, enclosure := range item.Enclosures {
			if enclosure.URL != "" {
				return enclosure.URL, nil
			}
		}
	}
	return "", errors.NewRemoteError("podcast feed has no audio enclosure", nil)
}

// downloadTo 把远程文件流式写入本地路径
func (s *DownloadService) downloadTo(ctx context.Context, audioURL, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.NewRemoteError("audio download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewRemoteError(fmt.Sprintf("audio download returned status %d", resp.StatusCode), nil)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return errors.NewLocalError("failed to create audio file", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(outputPath)
		return errors.NewRemoteError("audio download interrupted", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return errors.NewLocalError("failed to finish audio file", err)
	}
	return nil
}
