// internal/services/editor_service_test.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-transcriber/internal/config"
	"omni-transcriber/internal/gemini"
	"omni-transcriber/internal/pipeline"
	"omni-transcriber/internal/retry"
)

// editorTestServer 返回固定文本的生成接口，并记录每次请求体
func editorTestServer(t *testing.T, responseText string, bodies *[]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*bodies = append(*bodies, body)
		fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, responseText)
	}))
}

func newTestEditorService(server *httptest.Server) *EditorService {
	client := gemini.NewClientForTests("test-key", server.URL, server.URL, server.Client())
	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	return NewEditorService(client, retry.NewExecutorForTests(3, time.Millisecond, noSleep))
}

// TestEditEmptyResultRetried 空白编辑结果视为失败并按重试次数耗尽
func TestEditEmptyResultRetried(t *testing.T) {
	var bodies []map[string]any
	server := editorTestServer(t, "  \n", &bodies)
	defer server.Close()

	svc := newTestEditorService(server)
	_, err := svc.Edit(context.Background(), "转写文本",
		config.ModelConfig{Model: "gemini-3-pro-preview", Temperature: 1.0}, pipeline.EditOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Editing failed after 3 attempts")
	assert.Contains(t, err.Error(), "empty result")
	assert.Len(t, bodies, 3, "空结果应按重试次数重新编辑")
}

// TestEditPromptAssembly 系统提示词的拼接顺序：
// 基础提示词（覆盖优先）在前，翻译指令追加在末尾，用户消息带固定前缀
func TestEditPromptAssembly(t *testing.T) {
	var bodies []map[string]any
	server := editorTestServer(t, "## 📝 Summary\n整理结果", &bodies)
	defer server.Close()

	svc := newTestEditorService(server)
	result, err := svc.Edit(context.Background(), "转写文本",
		config.ModelConfig{Model: "gemini-3-pro-preview", Temperature: 1.0},
		pipeline.EditOptions{SystemPromptOverride: "自定义整理规则", EnableTranslation: true})

	require.NoError(t, err)
	assert.Equal(t, "## 📝 Summary\n整理结果", result)

	require.Len(t, bodies, 1)
	body := bodies[0]

	sysParts := body["systemInstruction"].(map[string]any)["parts"].([]any)
	sysText := sysParts[0].(map[string]any)["text"].(string)
	assert.True(t, len(sysText) > len("自定义整理规则"))
	assert.Contains(t, sysText, "自定义整理规则")
	assert.NotContains(t, sysText, "meeting-minutes", "覆盖后不应再使用默认提示词")
	assert.Contains(t, sysText, "Translation Mode (ENABLED)")

	userParts := body["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	userText := userParts[0].(map[string]any)["text"].(string)
	assert.Equal(t, "Here's the transcript:\n\n转写文本", userText)
}
