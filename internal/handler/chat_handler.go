package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 流式问答连接。
type ChatHandler struct {
	qaService     service.QAService
	ticketManager *token.TicketManager
	// 每连接停止标志
	stopFlags sync.Map // key: connection pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(qaService service.QAService, ticketManager *token.TicketManager) *ChatHandler {
	return &ChatHandler{
		qaService:     qaService,
		ticketManager: ticketManager,
	}
}

// IssueTicket 签发一张短时效的 WebSocket 握手票据。
// 浏览器的 WebSocket API 无法携带自定义头，因此票据走 URL 路径。
func (h *ChatHandler) IssueTicket(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = token.GenerateRandomString(24)
	}
	ticket, err := h.ticketManager.IssueTicket(sessionID)
	if err != nil {
		log.Errorf("[ChatHandler] 签发票据失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "签发票据失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"ticket":     ticket,
		"session_id": sessionID,
	}})
}

// chatFrame 是客户端在 WebSocket 上发送的消息帧。
type chatFrame struct {
	Type     string              `json:"type"`
	Question string              `json:"question"`
	Scope    string              `json:"scope"`
	History  []model.ChatMessage `json:"history"`
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	ticketString := c.Param("ticket")
	claims, err := h.ticketManager.VerifyTicket(ticketString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的票据", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[ChatHandler] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()
	defer h.stopFlags.Delete(connKey(conn))

	log.Infof("[ChatHandler] WebSocket 连接已建立, sessionId: %s", claims.SessionID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			break
		}

		var frame chatFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.writeError(conn, "无效的消息格式")
			continue
		}

		// 停止指令只置位标志，由流式写入侧检测并截断
		if frame.Type == "stop" {
			log.Infof("[ChatHandler] 收到停止指令, sessionId: %s", claims.SessionID)
			h.stopFlags.Store(connKey(conn), true)
			resp := map[string]interface{}{
				"type":      "stop",
				"message":   "响应已停止",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			}
			b, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			continue
		}

		scope := service.ScopeLocal
		if frame.Scope == string(service.ScopeDrive) {
			scope = service.ScopeDrive
		}

		// 清除上一轮残留的停止标志
		h.stopFlags.Delete(connKey(conn))
		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(connKey(conn))
			return ok && v.(bool)
		}

		err = h.qaService.StreamAsk(c.Request.Context(), service.AskRequest{
			Question:  frame.Question,
			History:   frame.History,
			SessionID: claims.SessionID,
			Scope:     scope,
		}, conn, shouldStop)
		if err != nil {
			log.Errorf("[ChatHandler] 流式问答失败, sessionId: %s, error: %v", claims.SessionID, err)
			h.writeError(conn, "AI服务暂时不可用，请稍后重试")
			resp := map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"message":   "响应已完成",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			}
			b, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
	}
}

func (h *ChatHandler) writeError(conn *websocket.Conn, message string) {
	b, _ := json.Marshal(map[string]string{"error": message})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func connKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
