// Package model 定义了核心数据结构。
package model

import "time"

// Chunk 表示一个文档分块，是向量化与检索的最小单元。
// ID 在一个存储内唯一，由来源标识与分块序号拼接而成。
type Chunk struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	SourceName string    `json:"source_name"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RetrievedChunk 表示一条带相似度得分与来源信息的检索结果。
type RetrievedChunk struct {
	FileID      string  `json:"file_id,omitempty"`
	FileName    string  `json:"file_name"`
	TextContent string  `json:"text_content"`
	Score       float64 `json:"score"`
}

// Answer 是问答接口返回给调用方的最终结果。
type Answer struct {
	Answer      string   `json:"answer"`
	Sources     []string `json:"sources"`
	Suggestions []string `json:"suggestions"`
}
