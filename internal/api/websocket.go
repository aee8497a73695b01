// internal/api/websocket.go
package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"omni-transcriber/internal/services"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketHandler 把任务进度以WebSocket流推送给客户端
type WebSocketHandler struct {
	progress *services.ProgressService
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(progress *services.ProgressService) *WebSocketHandler {
	return &WebSocketHandler{progress: progress}
}

// StreamJobProgress 订阅单个任务的进度更新并推送到连接。
// 任务结束或客户端断开后关闭连接。
// GET /ws/jobs/:id
func (h *WebSocketHandler) StreamJobProgress(c *gin.Context) {
	jobID := c.Param("id")

	tracker, ok := h.progress.GetTracker(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "任务不存在"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	// 读泵只用于感知客户端断开
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case update, open := <-updates:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				log.Printf("推送进度失败: %v", err)
				return
			}
			// 终态推送完即关闭
			if update.Status != "running" {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-tracker.Done:
			// 兜底：Done先于终态更新到达时，排空剩余更新后退出
			for {
				select {
				case update, open := <-updates:
					if !open {
						return
					}
					conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
					conn.WriteJSON(update)
				default:
					return
				}
			}
		}
	}
}
