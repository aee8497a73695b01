// internal/gemini/client.go
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// Client 是 Gemini REST API 的轻量客户端，
// 覆盖本服务用到的三个能力：文件上传、内容生成、文件删除。
type Client struct {
	apiKey        string
	baseURL       string // generateContent等模型接口
	uploadBaseURL string // File API上传接口
	client        *http.Client
}

// File 表示已上传到 File API 的文件
type File struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
}

// GenerateRequest 一次内容生成调用的参数
type GenerateRequest struct {
	Model             string
	SystemInstruction string
	Prompt            string
	FileURI           string // 可选，引用已上传的音频文件
	FileMimeType      string
	Temperature       float64
	ThinkingBudget    int
}

// NewClient 创建生产客户端
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:        apiKey,
		baseURL:       "https://generativelanguage.googleapis.com/v1beta",
		uploadBaseURL: "https://generativelanguage.googleapis.com/upload/v1beta",
		client:        &http.Client{},
	}
}

// NewClientForTests 创建指向自定义端点的客户端
func NewClientForTests(apiKey, baseURL, uploadBaseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiKey:        apiKey,
		baseURL:       baseURL,
		uploadBaseURL: uploadBaseURL,
		client:        httpClient,
	}
}

// UploadFile 把本地文件上传到 File API，返回可在生成请求中引用的文件句柄
func (c *Client) UploadFile(ctx context.Context, path, mimeType string) (*File, error) {
	if c.apiKey == "" {
		return nil, errors.New("gemini API密钥未提供")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取待上传文件失败: %w", err)
	}

	apiURL := fmt.Sprintf("%s/files?key=%s", c.uploadBaseURL, url.QueryEscape(c.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mimeType)
	httpReq.Header.Set("X-Goog-Upload-Protocol", "raw")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, apiError("文件上传", httpResp)
	}

	var response struct {
		File File `json:"file"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}
	if response.File.URI == "" {
		return nil, errors.New("gemini未返回文件URI")
	}

	return &response.File, nil
}

// GenerateContent 调用 models/{model}:generateContent 并返回文本结果。
// 候选为空或文本为空白时返回错误，并尽量带上拦截原因。
func (c *Client) GenerateContent(ctx context.Context, req GenerateRequest) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("gemini API密钥未提供")
	}

	// 构建Gemini请求
	parts := []map[string]any{}
	if req.Prompt != "" {
		parts = append(parts, map[string]any{"text": req.Prompt})
	}
	if req.FileURI != "" {
		parts = append(parts, map[string]any{
			"fileData": map[string]any{
				"fileUri":  req.FileURI,
				"mimeType": req.FileMimeType,
			},
		})
	}

	generationConfig := map[string]any{
		"temperature": req.Temperature,
	}
	if req.ThinkingBudget > 0 {
		generationConfig["thinkingConfig"] = map[string]any{
			"thinkingBudget": req.ThinkingBudget,
		}
	}

	requestBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": parts},
		},
		"generationConfig": generationConfig,
	}

	if req.SystemInstruction != "" {
		requestBody["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemInstruction}},
		}
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", err
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(req.Model), url.QueryEscape(c.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return "", apiError("内容生成", httpResp)
	}

	// 解析响应
	var response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return "", err
	}

	if len(response.Candidates) == 0 {
		if response.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini未返回任何结果，拦截原因: %s", response.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini未返回任何结果")
	}

	var resultText string
	for _, part := range response.Candidates[0].Content.Parts {
		resultText += part.Text
	}

	return resultText, nil
}

// DeleteFile 从 File API 删除已上传的文件
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	apiURL := fmt.Sprintf("%s/%s?key=%s", c.baseURL, name, url.QueryEscape(c.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiURL, nil)
	if err != nil {
		return err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return apiError("文件删除", httpResp)
	}
	return nil
}

// apiError 提取API错误消息构造错误值
func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp map[string]any
	if err := json.Unmarshal(body, &errorResp); err == nil {
		if errorObj, ok := errorResp["error"].(map[string]any); ok {
			return fmt.Errorf("gemini %s API错误(%d): %v", op, resp.StatusCode, errorObj["message"])
		}
	}
	return fmt.Errorf("gemini %s API错误(%d): %s", op, resp.StatusCode, string(body))
}
