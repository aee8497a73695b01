// internal/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// 模型档位：两档。flash 更快更便宜，pro 质量更高。
const (
	TierFlash = "flash"
	TierPro   = "pro"
)

// Models 档位到具体模型名的映射
var Models = map[string]string{
	TierFlash: "gemini-3-flash-preview",
	TierPro:   "gemini-3-pro-preview",
}

// 默认档位：转写默认flash（更快），编辑默认pro（质量优先）
const (
	DefaultTranscriberTier = TierFlash
	DefaultEditorTier      = TierPro
)

// ModelConfig 是一次模型调用的不可变配置值。
// 按调用者偏好派生变体时使用 WithModel 拷贝，绝不原地修改，
// 并发请求之间不会互相观察到对方的覆盖值。
type ModelConfig struct {
	Model         string
	Temperature   float64
	ThinkingLevel string // "low" 或 "high"
}

// WithModel 返回替换了模型名的副本
func (m ModelConfig) WithModel(model string) ModelConfig {
	m.Model = model
	return m
}

// ThinkingBudget 把思考档位换算为token预算
func (m ModelConfig) ThinkingBudget() int {
	if m.ThinkingLevel == "high" {
		return 8192
	}
	return 1024
}

// RcloneConfig 远程同步配置。UploadPath为空时同步功能整体关闭。
type RcloneConfig struct {
	UploadPath       string
	EnabledCallerIDs []int64
}

// EnabledFor 判断指定调用者是否启用了远程同步
func (r RcloneConfig) EnabledFor(callerID int64) bool {
	if r.UploadPath == "" {
		return false
	}
	for _, id := range r.EnabledCallerIDs {
		if id == callerID {
			return true
		}
	}
	return false
}

// Config 存储应用配置。Load返回的值被显式传递给各服务，
// 不提供可变的进程级全局配置。
type Config struct {
	Port      string
	DataDir   string
	TempDir   string
	DebugMode bool

	GeminiAPIKey string
	Transcriber  ModelConfig
	Editor       ModelConfig

	// 调用者白名单，为空表示不限制
	AllowedCallerIDs []int64

	// 外部工具路径
	YTDLPPath       string
	WKHTMLTOPDFPath string

	Rclone RcloneConfig
}

// AllowsCaller 判断调用者是否在白名单内（白名单为空时全部放行）
func (c *Config) AllowsCaller(callerID int64) bool {
	if len(c.AllowedCallerIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedCallerIDs {
		if id == callerID {
			return true
		}
	}
	return false
}

// ModelFor 按档位键返回模型名，未知档位回退到默认档
func ModelFor(tier, defaultTier string) string {
	if model, ok := Models[tier]; ok {
		return model
	}
	return Models[defaultTier]
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:      getEnv("PORT", "8080"),
		DataDir:   getEnvPath("DATA_DIR", "data"),
		TempDir:   getEnvPath("TEMP_DIR", "/tmp/omni_transcriber"),
		DebugMode: getEnvBool("DEBUG_MODE", false),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		Transcriber: ModelConfig{
			Model:         getEnv("TRANSCRIBER_MODEL", Models[DefaultTranscriberTier]),
			Temperature:   getEnvFloat("TRANSCRIBER_TEMPERATURE", 1.0),
			ThinkingLevel: getEnv("TRANSCRIBER_THINKING_LEVEL", "low"),
		},
		Editor: ModelConfig{
			Model:         getEnv("EDITOR_MODEL", Models[DefaultEditorTier]),
			Temperature:   getEnvFloat("EDITOR_TEMPERATURE", 1.0),
			ThinkingLevel: getEnv("EDITOR_THINKING_LEVEL", "high"),
		},

		AllowedCallerIDs: getEnvInt64List("ALLOWED_CALLER_IDS"),

		YTDLPPath:       getEnv("YTDLP_PATH", "yt-dlp"),
		WKHTMLTOPDFPath: getEnv("WKHTMLTOPDF_PATH", "wkhtmltopdf"),

		Rclone: RcloneConfig{
			UploadPath:       getEnv("RCLONE_UPLOAD_PATH", ""),
			EnabledCallerIDs: getEnvInt64List("RCLONE_ENABLED_CALLER_IDS"),
		},
	}

	if config.GeminiAPIKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置GEMINI_API_KEY，转写与编辑功能将不可用")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值并确保目录存在
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			log.Printf("警告: 创建目录失败 %s: %v", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvFloat 获取浮点类型环境变量
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("警告: 环境变量 %s 的值 %q 不是合法数字，使用默认值 %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvInt64List 解析逗号分隔的整数列表，非法项跳过
func getEnvInt64List(key string) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var ids []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("警告: 忽略非法的ID: %q", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
