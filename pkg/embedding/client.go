// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"context"
	"fmt"

	"doc-chat-go/internal/config"
)

// Client defines the interface for an embedding client.
// 批量接口中单条失败的条目以 nil 占位返回，调用方跳过；
// 整体传输失败才返回 error。相似度统一为余弦（归一化向量上的点积）。
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// NewClient creates a new embedding client based on the provider in the config.
// provider 为空或 "local" 时使用进程内共享模型：进程启动时构建一次，
// 无网络调用；维度配置非法时在启动阶段直接报错。
func NewClient(cfg config.EmbeddingConfig) (Client, error) {
	switch cfg.Provider {
	case "", "local":
		return newLocalEmbedder(cfg.Dimensions)
	case "openai":
		return newOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("未知的 embedding provider: %s", cfg.Provider)
	}
}
