// Package model 定义了核心数据结构。
package model

import "time"

// EsChunkDocument 定义了存储在 Elasticsearch 中的分块文档结构。
type EsChunkDocument struct {
	VectorID     string    `json:"vector_id"` // 唯一标识，例如 fileId + chunkId
	FileID       string    `json:"file_id"`
	FileName     string    `json:"file_name"`
	ChunkID      int       `json:"chunk_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"` // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
	ModifiedTime time.Time `json:"modified_time"`
}

// EsSearchHit 表示一次 kNN 检索返回的单条命中。
type EsSearchHit struct {
	Doc   EsChunkDocument
	Score float64
}
