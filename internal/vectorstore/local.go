// Package vectorstore 提供单次上传会话使用的进程内向量索引。
package vectorstore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"doc-chat-go/internal/model"
)

// ErrNoDocuments 表示当前没有任何可检索的本地文档。
var ErrNoDocuments = errors.New("当前没有已加载的文档")

// Result 表示一条本地检索结果。
type Result struct {
	Chunk model.Chunk
	Score float64
}

// LocalIndex 是一次上传会话的不可变向量快照。
// 构建完成后只读，检索为归一化向量上的暴力精确扫描。
type LocalIndex struct {
	chunks  []model.Chunk
	vectors [][]float32
	dims    int
}

// NewLocalIndex 构建一个新的本地索引。所有向量必须维度一致；
// 向量在构建时做 L2 归一化，之后点积即余弦相似度。
func NewLocalIndex(chunks []model.Chunk) (*LocalIndex, error) {
	idx := &LocalIndex{}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return nil, fmt.Errorf("分块 %s 缺少向量", c.ID)
		}
		if idx.dims == 0 {
			idx.dims = len(c.Embedding)
		} else if len(c.Embedding) != idx.dims {
			return nil, fmt.Errorf("分块 %s 向量维度不一致: %d != %d", c.ID, len(c.Embedding), idx.dims)
		}
		idx.chunks = append(idx.chunks, c)
		idx.vectors = append(idx.vectors, Normalize(c.Embedding))
	}
	return idx, nil
}

// Size 返回索引中的分块数量。
func (idx *LocalIndex) Size() int {
	return len(idx.chunks)
}

// FirstTexts 按插入顺序返回前 n 个分块的文本，用于生成初始问题建议。
func (idx *LocalIndex) FirstTexts(n int) []string {
	if n > len(idx.chunks) {
		n = len(idx.chunks)
	}
	texts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		texts = append(texts, idx.chunks[i].Text)
	}
	return texts
}

// Search 返回与查询向量余弦相似度最高的 k 个分块，按得分降序排列，
// 得分相同时保持分块插入顺序。
func (idx *LocalIndex) Search(query []float32, k int) []Result {
	if len(idx.chunks) == 0 || k <= 0 {
		return nil
	}
	q := Normalize(query)
	results := make([]Result, 0, len(idx.chunks))
	for i, v := range idx.vectors {
		results = append(results, Result{Chunk: idx.chunks[i], Score: dot(v, q)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

// Holder 持有进程内唯一的本地索引槽位。
// Rebuild 通过原子指针交换整体替换索引：并发读取方只会看到
// 旧索引或新索引，不会观察到半构建状态。
type Holder struct {
	current atomic.Pointer[LocalIndex]
}

// NewHolder 创建一个空的索引槽位。
func NewHolder() *Holder {
	return &Holder{}
}

// Rebuild 用新一批分块整体替换当前索引，旧索引随之废弃。
func (h *Holder) Rebuild(chunks []model.Chunk) error {
	idx, err := NewLocalIndex(chunks)
	if err != nil {
		return err
	}
	h.current.Store(idx)
	return nil
}

// Current 返回当前索引快照，可能为 nil。
func (h *Holder) Current() *LocalIndex {
	return h.current.Load()
}

// Search 在当前索引上执行检索；索引不存在或为空时返回 ErrNoDocuments。
func (h *Holder) Search(query []float32, k int) ([]Result, error) {
	idx := h.current.Load()
	if idx == nil || idx.Size() == 0 {
		return nil, ErrNoDocuments
	}
	return idx.Search(query, k), nil
}

// Normalize 返回向量的 L2 归一化副本；零向量原样返回。
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
