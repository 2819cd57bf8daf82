// Package model 定义了核心数据结构。
package model

// ChatMessage 代表客户端随请求提交的单条对话消息。
// 服务端不持久化历史：每次请求自带需要纳入上下文的全部轮次。
type ChatMessage struct {
	Role    string `json:"role"` // "user" 或 "assistant"
	Content string `json:"content"`
}
