package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"doc-chat-go/pkg/log"
)

// localEmbedder 是进程内共享的特征哈希向量模型：对词一元组与二元组做
// FNV-1a 哈希，落入固定数量的桶中按词频加权，最后做 L2 归一化。
// 同一文本总是得到同一向量，进程启动后不再有任何外部依赖。
type localEmbedder struct {
	dims int
}

func newLocalEmbedder(dims int) (*localEmbedder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("本地 embedding 模型维度配置非法: %d", dims)
	}
	log.Infof("本地 Embedding 模型初始化成功, 维度: %d", dims)
	return &localEmbedder{dims: dims}, nil
}

func (e *localEmbedder) Dimensions() int {
	return e.dims
}

// CreateEmbedding 将单条文本编码为 L2 归一化向量。空文本视为非法输入。
func (e *localEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, errors.New("文本为空，无法向量化")
	}

	vec := make([]float32, e.dims)
	addFeature := func(feature string) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dims))
		// 最高位决定符号，减少哈希碰撞导致的系统性偏置
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	for i, tok := range tokens {
		addFeature(tok)
		if i+1 < len(tokens) {
			addFeature(tok + "\x00" + tokens[i+1])
		}
	}

	normalizeInPlace(vec)
	return vec, nil
}

// CreateEmbeddings 逐条编码一批文本。单条失败（如空文本）以 nil 占位并继续，
// 调用方负责跳过；返回切片与输入等长。
func (e *localEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	skipped := 0
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vec, err := e.CreateEmbedding(ctx, text)
		if err != nil {
			skipped++
			continue
		}
		vectors[i] = vec
	}
	if skipped > 0 {
		log.Warnf("批量向量化跳过 %d/%d 条无效文本", skipped, len(texts))
	}
	return vectors, nil
}

// tokenize 将文本切分为小写词元：连续的字母/数字作为一个词，
// 每个 CJK 字符单独成词。
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func normalizeInPlace(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
