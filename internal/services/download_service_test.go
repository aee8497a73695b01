// internal/services/download_service_test.go
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-transcriber/internal/sourceurl"
)

// ytdlpFakeRunner 模拟yt-dlp：按输出模板落一个mp3文件
type ytdlpFakeRunner struct {
	calls      []fakeCall
	exitCode   int
	skipOutput bool
}

func (f *ytdlpFakeRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) (CommandResult, error) {
	f.calls = append(f.calls, fakeCall{stdin: stdin, name: name, args: args})
	if f.exitCode != 0 {
		return CommandResult{ExitCode: f.exitCode, Stderr: "下载失败"}, nil
	}
	if !f.skipOutput {
		// 找到 -o 后面的模板，替换 %(ext)s
		for i, arg := range args {
			if arg == "-o" && i+1 < len(args) {
				path := args[i+1]
				path = filepath.Dir(path) + "/" + "dQw4w9WgXcQ.mp3"
				if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
					return CommandResult{}, err
				}
			}
		}
	}
	return CommandResult{}, nil
}

// TestFetchYouTube yt-dlp路径：使用规范URL，找回转码后的文件
func TestFetchYouTube(t *testing.T) {
	runner := &ytdlpFakeRunner{}
	svc := NewDownloadService("yt-dlp", runner)

	outputDir := t.TempDir()
	desc := sourceurl.Descriptor{Platform: sourceurl.PlatformYouTube, ID: "dQw4w9WgXcQ"}

	path, err := svc.Fetch(context.Background(), desc, outputDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "dQw4w9WgXcQ.mp3"), path)

	require.Len(t, runner.calls, 1)
	args := runner.calls[0].args
	// 子进程只接收由ID重建的规范URL
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", args[len(args)-1])
	assert.Contains(t, args, "bestaudio")
	assert.Contains(t, args, "--no-playlist")
}

// TestFetchYouTubeNonZeroExit 下载器非零退出视为失败
func TestFetchYouTubeNonZeroExit(t *testing.T) {
	runner := &ytdlpFakeRunner{exitCode: 1}
	svc := NewDownloadService("yt-dlp", runner)

	_, err := svc.Fetch(context.Background(),
		sourceurl.Descriptor{Platform: sourceurl.PlatformYouTube, ID: "dQw4w9WgXcQ"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
}

// TestFetchYouTubeMissingFile 退出码为零但没有产出文件同样失败
func TestFetchYouTubeMissingFile(t *testing.T) {
	runner := &ytdlpFakeRunner{skipOutput: true}
	svc := NewDownloadService("yt-dlp", runner)

	_, err := svc.Fetch(context.Background(),
		sourceurl.Descriptor{Platform: sourceurl.PlatformYouTube, ID: "dQw4w9WgXcQ"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audio file")
}

// TestFetchPodcastEpisode 单集ID：目录查询取episodeUrl后直接下载
func TestFetchPodcastEpisode(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lookup":
			assert.Equal(t, "7890", r.URL.Query().Get("id"))
			fmt.Fprintf(w, `{"results":[{"kind":"podcast-episode","episodeUrl":"%s/audio.mp3"}]}`, server.URL)
		case "/audio.mp3":
			w.Write([]byte("episode-audio"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	svc := NewDownloadServiceForTests("yt-dlp", &ytdlpFakeRunner{}, server.Client(), server.URL+"/lookup")

	outputDir := t.TempDir()
	desc := sourceurl.Descriptor{Platform: sourceurl.PlatformApplePodcasts, ID: "123456_7890"}

	path, err := svc.Fetch(context.Background(), desc, outputDir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "episode-audio", string(data))
}

// TestFetchPodcastShowLatest 仅节目ID：经feed取最新一集的enclosure
func TestFetchPodcastShowLatest(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lookup":
			fmt.Fprintf(w, `{"results":[{"kind":"podcast","feedUrl":"%s/feed.xml"}]}`, server.URL)
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>节目</title>
<item><title>最新一集</title><enclosure url="%s/latest.mp3" type="audio/mpeg" length="10"/></item>
<item><title>旧一集</title><enclosure url="%s/old.mp3" type="audio/mpeg" length="10"/></item>
</channel></rss>`, server.URL, server.URL)
		case "/latest.mp3":
			w.Write([]byte("latest-audio"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	svc := NewDownloadServiceForTests("yt-dlp", &ytdlpFakeRunner{}, server.Client(), server.URL+"/lookup")

	desc := sourceurl.Descriptor{Platform: sourceurl.PlatformApplePodcasts, ID: "123456"}
	path, err := svc.Fetch(context.Background(), desc, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "latest-audio", string(data))
}

// TestFetchPodcastNotFound 目录查询无结果时报错
func TestFetchPodcastNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer server.Close()

	svc := NewDownloadServiceForTests("yt-dlp", &ytdlpFakeRunner{}, server.Client(), server.URL+"/lookup")

	_, err := svc.Fetch(context.Background(),
		sourceurl.Descriptor{Platform: sourceurl.PlatformApplePodcasts, ID: "999"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
