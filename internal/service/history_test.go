package service

import (
	"fmt"
	"testing"

	"doc-chat-go/internal/model"
)

func makeHistory(n int) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, model.ChatMessage{Role: role, Content: fmt.Sprintf("msg-%d", i)})
	}
	return msgs
}

func TestBoundHistory(t *testing.T) {
	tests := []struct {
		name      string
		turns     int
		maxTurns  int
		wantLen   int
		wantFirst string
	}{
		{"历史不超限时原样保留", 4, 6, 4, "msg-0"},
		{"超限时只保留最近的轮次", 8, 6, 6, "msg-2"},
		{"恰好等于上限", 6, 6, 6, "msg-0"},
		{"上限为1", 5, 1, 1, "msg-4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BoundHistory(makeHistory(tt.turns), tt.maxTurns)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if got[0].Content != tt.wantFirst {
				t.Errorf("首条 = %s, want %s", got[0].Content, tt.wantFirst)
			}
		})
	}
}

func TestBoundHistoryEmptyAndZero(t *testing.T) {
	if got := BoundHistory(nil, 6); got != nil {
		t.Errorf("空历史应返回 nil, got %v", got)
	}
	if got := BoundHistory(makeHistory(3), 0); got != nil {
		t.Errorf("maxTurns=0 应返回 nil, got %v", got)
	}
}
