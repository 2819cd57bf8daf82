package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"doc-chat-go/internal/keypool"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/llm"

	"github.com/gin-gonic/gin"
)

// fakeQAService 返回预设结果，记录收到的请求。
type fakeQAService struct {
	answer *model.Answer
	err    error
	gotReq service.AskRequest
	called bool
}

func (f *fakeQAService) Ask(ctx context.Context, req service.AskRequest) (*model.Answer, error) {
	f.called = true
	f.gotReq = req
	return f.answer, f.err
}

func (f *fakeQAService) StreamAsk(ctx context.Context, req service.AskRequest, writer llm.MessageWriter, shouldStop func() bool) error {
	return f.err
}

func (f *fakeQAService) InitialSuggestions(ctx context.Context) []string {
	return []string{"suggestion"}
}

func (f *fakeQAService) KeyStats() []keypool.KeyStats {
	return []keypool.KeyStats{{Key: "sk-aaaaa****", UseCount: 3}}
}

func setupRouter(svc service.QAService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewQAHandler(svc)
	r.POST("/api/v1/ask", h.Ask)
	r.POST("/api/v1/drive/ask", h.AskDrive)
	r.GET("/api/v1/llm/stats", h.KeyStats)
	return r
}

func doAsk(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAskSuccessEnvelope(t *testing.T) {
	svc := &fakeQAService{answer: &model.Answer{
		Answer:      "The report says X [Source: report.pdf]",
		Sources:     []string{"report.pdf"},
		Suggestions: []string{"More?"},
	}}
	r := setupRouter(svc)

	w := doAsk(t, r, "/api/v1/ask", `{"question":"what does the report say?","session_id":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Code    int          `json:"code"`
		Message string       `json:"message"`
		Data    model.Answer `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应不是合法 JSON: %v", err)
	}
	if resp.Code != 200 || resp.Message != "success" {
		t.Errorf("响应信封不正确: code=%d message=%s", resp.Code, resp.Message)
	}
	if len(resp.Data.Sources) != 1 || resp.Data.Sources[0] != "report.pdf" {
		t.Errorf("Sources = %v", resp.Data.Sources)
	}
	if svc.gotReq.Scope != service.ScopeLocal {
		t.Errorf("scope = %s, want local", svc.gotReq.Scope)
	}
}

func TestAskDriveUsesDriveScope(t *testing.T) {
	svc := &fakeQAService{answer: &model.Answer{Answer: "ok", Sources: []string{}, Suggestions: []string{}}}
	r := setupRouter(svc)

	w := doAsk(t, r, "/api/v1/drive/ask", `{"question":"q"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if svc.gotReq.Scope != service.ScopeDrive {
		t.Errorf("scope = %s, want drive", svc.gotReq.Scope)
	}
}

func TestAskErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"空问题", service.ErrEmptyQuestion, http.StatusBadRequest},
		{"超长问题", service.ErrQuestionTooLong, http.StatusBadRequest},
		{"密钥耗尽", service.ErrAllKeysFailed, http.StatusBadGateway},
		{"知识库不可达", service.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(&fakeQAService{err: tt.err})
			w := doAsk(t, r, "/api/v1/ask", `{"question":"q"}`)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAskRejectsMalformedBody(t *testing.T) {
	svc := &fakeQAService{}
	r := setupRouter(svc)

	w := doAsk(t, r, "/api/v1/ask", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if svc.called {
		t.Error("请求体非法时不应调用服务层")
	}
}

func TestKeyStatsEndpoint(t *testing.T) {
	r := setupRouter(&fakeQAService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/llm/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sk-aaaaa****") {
		t.Errorf("统计响应缺少掩码密钥: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "sk-aaaaabbbbb") {
		t.Error("统计响应不应包含完整密钥")
	}
}
