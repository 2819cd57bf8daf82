// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/service"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// QAHandler 结构体定义了问答相关的处理器。
type QAHandler struct {
	qaService service.QAService
}

// NewQAHandler 创建一个新的 QAHandler 实例。
func NewQAHandler(qaService service.QAService) *QAHandler {
	return &QAHandler{qaService: qaService}
}

type askRequestBody struct {
	Question  string              `json:"question"`
	History   []model.ChatMessage `json:"history"`
	SessionID string              `json:"session_id"`
}

// Ask 针对会话内上传文档回答问题。
func (h *QAHandler) Ask(c *gin.Context) {
	h.ask(c, service.ScopeLocal)
}

// AskDrive 针对持久化的 Drive 知识库回答问题。
func (h *QAHandler) AskDrive(c *gin.Context) {
	h.ask(c, service.ScopeDrive)
}

func (h *QAHandler) ask(c *gin.Context, scope service.Scope) {
	var body askRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warnf("[QAHandler] 请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求体", "data": nil})
		return
	}
	log.Infof("[QAHandler] 收到问答请求, scope: %s, question 长度: %d, history: %d 条", scope, len(body.Question), len(body.History))

	answer, err := h.qaService.Ask(c.Request.Context(), service.AskRequest{
		Question:  body.Question,
		History:   body.History,
		SessionID: body.SessionID,
		Scope:     scope,
	})
	if err != nil {
		status, message := mapAskError(err)
		log.Warnf("[QAHandler] 问答失败, scope: %s, status: %d, error: %v", scope, status, err)
		c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
		return
	}

	log.Infof("[QAHandler] 问答成功, scope: %s, 引用 %d 个来源", scope, len(answer.Sources))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": answer})
}

// KeyStats 返回密钥池的脱敏统计信息。
func (h *QAHandler) KeyStats(c *gin.Context) {
	stats := h.qaService.KeyStats()
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"keys": stats, "total": len(stats)}})
}

// mapAskError 把服务层错误映射为 HTTP 状态码和对外文案。
func mapAskError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrEmptyQuestion):
		return http.StatusBadRequest, "问题不能为空"
	case errors.Is(err, service.ErrQuestionTooLong):
		return http.StatusBadRequest, "问题长度超出限制"
	case errors.Is(err, vectorstore.ErrNoDocuments):
		return http.StatusBadRequest, "当前会话还没有任何已上传的文档"
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "知识库暂时不可用，请稍后重试"
	case errors.Is(err, service.ErrAllKeysFailed):
		return http.StatusBadGateway, "AI服务暂时不可用，请稍后重试"
	default:
		return http.StatusInternalServerError, "服务器内部错误"
	}
}
