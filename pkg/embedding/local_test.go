package embedding

import (
	"context"
	"math"
	"testing"
)

func TestLocalEmbedderDeterministic(t *testing.T) {
	e, err := newLocalEmbedder(256)
	if err != nil {
		t.Fatalf("newLocalEmbedder() error: %v", err)
	}

	first, err := e.CreateEmbedding(context.Background(), "The quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("CreateEmbedding() error: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := e.CreateEmbedding(context.Background(), "The quick brown fox jumps over the lazy dog")
		if err != nil {
			t.Fatalf("CreateEmbedding() error: %v", err)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("相同文本第 %d 次编码在维度 %d 上不一致", i, j)
			}
		}
	}
}

func TestLocalEmbedderDimensionsAndNorm(t *testing.T) {
	e, _ := newLocalEmbedder(128)
	vec, err := e.CreateEmbedding(context.Background(), "一段中文测试文本 with mixed English words")
	if err != nil {
		t.Fatalf("CreateEmbedding() error: %v", err)
	}
	if len(vec) != 128 {
		t.Fatalf("向量维度 = %d, want 128", len(vec))
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-4 {
		t.Errorf("向量模长平方 = %f, want 1", sum)
	}
}

func TestLocalEmbedderDifferentTextsDiffer(t *testing.T) {
	e, _ := newLocalEmbedder(256)
	a, _ := e.CreateEmbedding(context.Background(), "revenue increased in the last quarter")
	b, _ := e.CreateEmbedding(context.Background(), "机器学习模型的训练过程")

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("无关文本不应得到相同向量")
	}
}

func TestLocalEmbedderEmptyText(t *testing.T) {
	e, _ := newLocalEmbedder(64)
	if _, err := e.CreateEmbedding(context.Background(), "   \n\t "); err == nil {
		t.Error("空白文本应返回错误")
	}
}

func TestLocalEmbedderBatchNilPlaceholders(t *testing.T) {
	e, _ := newLocalEmbedder(64)
	vectors, err := e.CreateEmbeddings(context.Background(), []string{"valid text", "", "another valid"})
	if err != nil {
		t.Fatalf("CreateEmbeddings() error: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("返回切片长度 = %d, 应与输入等长 3", len(vectors))
	}
	if vectors[0] == nil || vectors[2] == nil {
		t.Error("有效文本不应得到 nil 占位")
	}
	if vectors[1] != nil {
		t.Error("空文本应以 nil 占位")
	}
}

func TestNewLocalEmbedderInvalidDims(t *testing.T) {
	if _, err := newLocalEmbedder(0); err == nil {
		t.Error("非法维度应返回错误")
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Hello 世界 foo-bar 123")
	want := []string{"hello", "世", "界", "foo", "bar", "123"}
	if len(tokens) != len(want) {
		t.Fatalf("tokenize() = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}
