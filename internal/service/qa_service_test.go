package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/keypool"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/llm"
)

type fakeRetriever struct {
	results []model.RetrievedChunk
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, question string, scope Scope, k int) ([]model.RetrievedChunk, error) {
	return f.results, f.err
}

// fakeLLM 按密钥返回预设结果，并记录每个密钥的调用次数。
type fakeLLM struct {
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func (f *fakeLLM) Complete(ctx context.Context, apiKey string, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.calls = append(f.calls, apiKey)
	if err, ok := f.failures[apiKey]; ok {
		return "", err
	}
	return f.responses[apiKey], nil
}

func (f *fakeLLM) StreamChat(ctx context.Context, apiKey string, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.calls = append(f.calls, apiKey)
	if err, ok := f.failures[apiKey]; ok {
		return err
	}
	for _, part := range strings.SplitAfter(f.responses[apiKey], " ") {
		if part == "" {
			continue
		}
		if err := writer.WriteMessage(1, []byte(part)); err != nil {
			return err
		}
	}
	return nil
}

type frameCollector struct {
	frames []string
}

func (c *frameCollector) WriteMessage(messageType int, data []byte) error {
	c.frames = append(c.frames, string(data))
	return nil
}

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{ChunkSize: 1000, ChunkOverlap: 200, TopK: 5, MaxHistoryTurns: 6, MaxQuestionLength: 2000}
}

func newTestQAService(t *testing.T, retriever Retriever, client llm.Client, keys ...string) QAService {
	t.Helper()
	pool, err := keypool.New(keys, time.Minute, 30*time.Minute)
	if err != nil {
		t.Fatalf("keypool.New() error: %v", err)
	}
	return NewQAService(retriever, client, pool, vectorstore.NewHolder(), testRAGConfig(), time.Second)
}

func someResults() []model.RetrievedChunk {
	return []model.RetrievedChunk{
		{FileID: "f1", FileName: "report.pdf", TextContent: "revenue grew", Score: 0.9},
		{FileID: "f2", FileName: "notes.docx", TextContent: "meeting notes", Score: 0.7},
	}
}

func TestAskRejectsInvalidQuestion(t *testing.T) {
	svc := newTestQAService(t, &fakeRetriever{}, &fakeLLM{}, "sk-key1")

	_, err := svc.Ask(context.Background(), AskRequest{Question: "   "})
	if !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("空问题应返回 ErrEmptyQuestion, got %v", err)
	}

	_, err = svc.Ask(context.Background(), AskRequest{Question: strings.Repeat("长", 2001)})
	if !errors.Is(err, ErrQuestionTooLong) {
		t.Errorf("超长问题应返回 ErrQuestionTooLong, got %v", err)
	}
}

func TestAskNoHitsReturnsFriendlyAnswer(t *testing.T) {
	client := &fakeLLM{}
	svc := newTestQAService(t, &fakeRetriever{results: nil}, client, "sk-key1")

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "anything?"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if answer.Answer != noResultAnswer {
		t.Errorf("无命中时应返回友好回答, got %q", answer.Answer)
	}
	if len(client.calls) != 0 {
		t.Errorf("无命中时不应调用 LLM, 调用了 %d 次", len(client.calls))
	}
	if answer.Sources == nil || answer.Suggestions == nil {
		t.Error("Sources/Suggestions 应为空切片而非 nil")
	}
}

func TestAskKeyFallbackOnRetryableFailure(t *testing.T) {
	client := &fakeLLM{
		responses: map[string]string{"sk-key2aaaa": "All good [Source: report.pdf]"},
		failures:  map[string]error{"sk-key1aaaa": &llm.StatusError{StatusCode: 429, Body: "rate limited"}},
	}
	svc := newTestQAService(t, &fakeRetriever{results: someResults()}, client, "sk-key1aaaa", "sk-key2aaaa")

	answer, err := svc.Ask(context.Background(), AskRequest{Question: "how is revenue?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("应尝试 2 个密钥, 实际 %d 次: %v", len(client.calls), client.calls)
	}
	if client.calls[0] == client.calls[1] {
		t.Errorf("同一密钥在一次请求内被重试: %v", client.calls)
	}
	if len(answer.Sources) != 1 || answer.Sources[0] != "report.pdf" {
		t.Errorf("Sources = %v, want [report.pdf]", answer.Sources)
	}
}

func TestAskAllKeysFailed(t *testing.T) {
	client := &fakeLLM{
		failures: map[string]error{
			"sk-key1aaaa": &llm.StatusError{StatusCode: 500, Body: "boom"},
			"sk-key2aaaa": &llm.StatusError{StatusCode: 503, Body: "down"},
		},
	}
	svc := newTestQAService(t, &fakeRetriever{results: someResults()}, client, "sk-key1aaaa", "sk-key2aaaa")

	_, err := svc.Ask(context.Background(), AskRequest{Question: "q"})
	if !errors.Is(err, ErrAllKeysFailed) {
		t.Errorf("全部密钥失败应返回 ErrAllKeysFailed, got %v", err)
	}
	if len(client.calls) != 2 {
		t.Errorf("应恰好尝试每个密钥一次, 实际 %d 次", len(client.calls))
	}
}

func TestAskNonRetryableFailsFast(t *testing.T) {
	client := &fakeLLM{
		failures: map[string]error{
			"sk-key1aaaa": &llm.StatusError{StatusCode: 400, Body: "bad request"},
		},
		responses: map[string]string{"sk-key2aaaa": "unused"},
	}
	svc := newTestQAService(t, &fakeRetriever{results: someResults()}, client, "sk-key1aaaa", "sk-key2aaaa")

	_, err := svc.Ask(context.Background(), AskRequest{Question: "q"})
	if err == nil {
		t.Fatal("不可重试错误应向上返回")
	}
	if errors.Is(err, ErrAllKeysFailed) {
		t.Error("不可重试错误不应被包装为 ErrAllKeysFailed")
	}
	if len(client.calls) != 1 {
		t.Errorf("不可重试错误后不应换密钥, 实际调用 %d 次", len(client.calls))
	}
}

func TestStreamAskEmitsChunksAndCompletion(t *testing.T) {
	client := &fakeLLM{
		responses: map[string]string{"sk-key1aaaa": "Hello there [Source: report.pdf]\n\nSuggestions:\n1. What next?\n2. Why?\n3. How?"},
	}
	svc := newTestQAService(t, &fakeRetriever{results: someResults()}, client, "sk-key1aaaa")

	collector := &frameCollector{}
	err := svc.StreamAsk(context.Background(), AskRequest{Question: "hi"}, collector, func() bool { return false })
	if err != nil {
		t.Fatalf("StreamAsk() error: %v", err)
	}
	if len(collector.frames) < 2 {
		t.Fatalf("期望若干 chunk 帧和 1 个完成帧, got %d 帧", len(collector.frames))
	}

	var chunkFrame map[string]string
	if err := json.Unmarshal([]byte(collector.frames[0]), &chunkFrame); err != nil {
		t.Fatalf("chunk 帧不是合法 JSON: %v", err)
	}
	if chunkFrame["chunk"] == "" {
		t.Errorf("chunk 帧缺少 chunk 字段: %s", collector.frames[0])
	}

	var completion map[string]interface{}
	last := collector.frames[len(collector.frames)-1]
	if err := json.Unmarshal([]byte(last), &completion); err != nil {
		t.Fatalf("完成帧不是合法 JSON: %v", err)
	}
	if completion["type"] != "completion" || completion["status"] != "finished" {
		t.Errorf("完成帧内容不正确: %s", last)
	}
	if _, ok := completion["sources"]; !ok {
		t.Error("完成帧缺少 sources")
	}
	if _, ok := completion["suggestions"]; !ok {
		t.Error("完成帧缺少 suggestions")
	}
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name            string
		raw             string
		candidates      []string
		wantAnswer      string
		wantSources     []string
		wantSuggestions []string
	}{
		{
			name:            "完整输出",
			raw:             "The revenue grew [Source: report.pdf] and stabilized [Source: notes.docx].\n\nSuggestions:\n1. What drove growth?\n2. Any risks?\n3. Next quarter outlook?",
			candidates:      []string{"report.pdf", "notes.docx"},
			wantAnswer:      "The revenue grew [Source: report.pdf] and stabilized [Source: notes.docx].",
			wantSources:     []string{"report.pdf", "notes.docx"},
			wantSuggestions: []string{"What drove growth?", "Any risks?", "Next quarter outlook?"},
		},
		{
			name:            "无引用时退回候选来源",
			raw:             "A plain answer without citations.",
			candidates:      []string{"report.pdf"},
			wantAnswer:      "A plain answer without citations.",
			wantSources:     []string{"report.pdf"},
			wantSuggestions: []string{},
		},
		{
			name:            "重复与Unknown引用被过滤",
			raw:             "See [Source: a.pdf], again [Source: a.pdf], and [Source: Unknown].",
			candidates:      []string{"a.pdf"},
			wantAnswer:      "See [Source: a.pdf], again [Source: a.pdf], and [Source: Unknown].",
			wantSources:     []string{"a.pdf"},
			wantSuggestions: []string{},
		},
		{
			name:            "清理尾部加粗残留",
			raw:             "Bold ending**\n\nSuggestions:\n1. One?\n2. Two?\n3. Three?",
			candidates:      []string{"x.pdf"},
			wantAnswer:      "Bold ending",
			wantSources:     []string{"x.pdf"},
			wantSuggestions: []string{"One?", "Two?", "Three?"},
		},
		{
			name:            "建议最多取三条",
			raw:             "Answer.\n\nSuggestions:\n1. A?\n2. B?\n3. C?\n4. D?",
			candidates:      nil,
			wantAnswer:      "Answer.",
			wantSources:     []string{},
			wantSuggestions: []string{"A?", "B?", "C?"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, sources, suggestions := ParseAnswer(tt.raw, tt.candidates)
			if answer != tt.wantAnswer {
				t.Errorf("answer = %q, want %q", answer, tt.wantAnswer)
			}
			if len(sources) != len(tt.wantSources) {
				t.Fatalf("sources = %v, want %v", sources, tt.wantSources)
			}
			for i := range sources {
				if sources[i] != tt.wantSources[i] {
					t.Errorf("sources[%d] = %q, want %q", i, sources[i], tt.wantSources[i])
				}
			}
			if len(suggestions) != len(tt.wantSuggestions) {
				t.Fatalf("suggestions = %v, want %v", suggestions, tt.wantSuggestions)
			}
			for i := range suggestions {
				if suggestions[i] != tt.wantSuggestions[i] {
					t.Errorf("suggestions[%d] = %q, want %q", i, suggestions[i], tt.wantSuggestions[i])
				}
			}
		})
	}
}
