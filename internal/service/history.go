package service

import "doc-chat-go/internal/model"

// BoundHistory 只保留最近 maxTurns 条对话消息，更早的从头部丢弃。
// 服务端不持久化历史：每次请求自带它希望纳入上下文的全部轮次，
// 不传视为无历史。指代消解交给模型，这里只做裁剪。
func BoundHistory(turns []model.ChatMessage, maxTurns int) []model.ChatMessage {
	if maxTurns <= 0 || len(turns) == 0 {
		return nil
	}
	if len(turns) <= maxTurns {
		return turns
	}
	return turns[len(turns)-maxTurns:]
}
