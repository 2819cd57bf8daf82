package service

import (
	"context"
	"errors"
	"fmt"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/embedding"
	"doc-chat-go/pkg/log"
)

// Scope 标识一次检索命中的是哪个向量库。
// 两个库互不混合：本地是单次上传会话的易失索引，drive 是持久库。
type Scope string

const (
	// ScopeLocal 检索当前上传会话的进程内索引。
	ScopeLocal Scope = "local"
	// ScopeDrive 检索持久化的 Drive 知识库。
	ScopeDrive Scope = "drive"
)

// ErrStoreUnavailable 表示持久向量库暂时不可达，调用方可稍后重试。
var ErrStoreUnavailable = errors.New("持久向量库暂时不可用")

// Retriever 把问题向量化一次后派发到指定的向量库执行 top-K 检索。
type Retriever interface {
	Retrieve(ctx context.Context, question string, scope Scope, k int) ([]model.RetrievedChunk, error)
}

type retriever struct {
	embeddingClient embedding.Client
	local           *vectorstore.Holder
	driveStore      DriveStore
}

// NewRetriever 创建一个新的 Retriever 实例。
func NewRetriever(embeddingClient embedding.Client, local *vectorstore.Holder, driveStore DriveStore) Retriever {
	return &retriever{
		embeddingClient: embeddingClient,
		local:           local,
		driveStore:      driveStore,
	}
}

// Retrieve 向量化问题并在选定库中检索，结果带来源文件名、按得分降序。
func (r *retriever) Retrieve(ctx context.Context, question string, scope Scope, k int) ([]model.RetrievedChunk, error) {
	queryVector, err := r.embeddingClient.CreateEmbedding(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("问题向量化失败: %w", err)
	}

	switch scope {
	case ScopeDrive:
		results, err := r.driveStore.Search(ctx, queryVector, k)
		if err != nil {
			log.Errorf("[Retriever] 持久库检索失败: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return results, nil
	case ScopeLocal, "":
		hits, err := r.local.Search(queryVector, k)
		if err != nil {
			return nil, err
		}
		results := make([]model.RetrievedChunk, 0, len(hits))
		for _, hit := range hits {
			results = append(results, model.RetrievedChunk{
				FileName:    hit.Chunk.SourceName,
				TextContent: hit.Chunk.Text,
				Score:       hit.Score,
			})
		}
		return results, nil
	default:
		return nil, fmt.Errorf("未知的检索范围: %s", scope)
	}
}
