package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/keypool"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/llm"
	"doc-chat-go/pkg/log"

	"github.com/gorilla/websocket"
)

var (
	// ErrEmptyQuestion 表示问题为空，在向量化之前即被拒绝。
	ErrEmptyQuestion = errors.New("问题不能为空")
	// ErrQuestionTooLong 表示问题超过配置的长度上限。
	ErrQuestionTooLong = errors.New("问题长度超过上限")
	// ErrAllKeysFailed 表示一次请求内所有密钥都已尝试且失败。
	// 只对本次请求致命：密钥降级是临时的，下一个请求可以继续用池。
	ErrAllKeysFailed = errors.New("所有 LLM 密钥均调用失败")
)

// noResultAnswer 是检索无命中时返回的友好回答，不经过 LLM。
const noResultAnswer = "👋 I'm sorry, but I couldn't find any specific information in the documents to answer that. Could you try rephrasing or asking something else? I'm here to help! 😊"

// defaultSuggestions 在本地索引为空或建议生成失败时兜底。
var defaultSuggestions = []string{
	"What can you tell me about these documents?",
	"Can you summarize the main points?",
	"What are the key takeaways?",
}

// AskRequest 是一次问答请求的输入。History 由客户端自带，
// SessionID 用于密钥亲和，Scope 选择检索哪个向量库。
type AskRequest struct {
	Question  string
	History   []model.ChatMessage
	SessionID string
	Scope     Scope
}

// QAService 定义了检索增强问答的操作接口。
type QAService interface {
	// Ask 执行一轮完整的检索增强问答。
	Ask(ctx context.Context, req AskRequest) (*model.Answer, error)
	// StreamAsk 同样的管道，但把回答分块流式写入 writer，
	// 结束时发送携带来源与建议的完成帧。
	StreamAsk(ctx context.Context, req AskRequest, writer llm.MessageWriter, shouldStop func() bool) error
	// InitialSuggestions 基于当前本地索引的开头内容生成三个起始问题。
	InitialSuggestions(ctx context.Context) []string
	// KeyStats 返回密钥池的使用统计。
	KeyStats() []keypool.KeyStats
}

type qaService struct {
	retriever  Retriever
	llmClient  llm.Client
	pool       *keypool.Pool
	local      *vectorstore.Holder
	ragCfg     config.RAGConfig
	llmTimeout time.Duration
}

// NewQAService 创建一个新的 QAService 实例。
func NewQAService(retriever Retriever, llmClient llm.Client, pool *keypool.Pool, local *vectorstore.Holder, ragCfg config.RAGConfig, llmTimeout time.Duration) QAService {
	return &qaService{
		retriever:  retriever,
		llmClient:  llmClient,
		pool:       pool,
		local:      local,
		ragCfg:     ragCfg,
		llmTimeout: llmTimeout,
	}
}

// Ask 校验问题、检索 top-K 上下文并发起带密钥降级的 LLM 调用。
func (s *qaService) Ask(ctx context.Context, req AskRequest) (*model.Answer, error) {
	if err := s.validateQuestion(req.Question); err != nil {
		return nil, err
	}

	results, err := s.retriever.Retrieve(ctx, req.Question, req.Scope, s.ragCfg.TopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &model.Answer{Answer: noResultAnswer, Sources: []string{}, Suggestions: []string{}}, nil
	}

	messages := s.composeMessages(results, req.History, req.Question)
	raw, err := s.callLLM(ctx, req.SessionID, messages)
	if err != nil {
		return nil, err
	}

	answer, sources, suggestions := ParseAnswer(raw, sourceNames(results))
	return &model.Answer{Answer: answer, Sources: sources, Suggestions: suggestions}, nil
}

// StreamAsk 流式版本：分块下发、捕获完整回答、结束时发完成帧。
// 流已经开始输出后不再换密钥重试，避免给客户端发重复的前缀。
func (s *qaService) StreamAsk(ctx context.Context, req AskRequest, writer llm.MessageWriter, shouldStop func() bool) error {
	if err := s.validateQuestion(req.Question); err != nil {
		return err
	}

	results, err := s.retriever.Retrieve(ctx, req.Question, req.Scope, s.ragCfg.TopK)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		interceptor := newStreamInterceptor(writer, shouldStop)
		_ = interceptor.WriteMessage(websocket.TextMessage, []byte(noResultAnswer))
		sendCompletion(writer, []string{}, []string{})
		return nil
	}

	messages := s.composeMessages(results, req.History, req.Question)
	interceptor := newStreamInterceptor(writer, shouldStop)

	exclude := make(map[string]bool)
	var lastErr error
	for attempt := 0; attempt < s.pool.Size(); attempt++ {
		key, acqErr := s.pool.Acquire(req.SessionID, exclude)
		if acqErr != nil {
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
		err = s.llmClient.StreamChat(callCtx, key, messages, nil, interceptor)
		cancel()
		if err == nil {
			s.pool.MarkSuccess(key)
			answer := interceptor.String()
			_, sources, suggestions := ParseAnswer(answer, sourceNames(results))
			sendCompletion(writer, sources, suggestions)
			return nil
		}
		lastErr = err
		if !llm.IsRetryable(err) || interceptor.Written() {
			return err
		}
		log.Warnf("[QAService] 流式调用失败，降级切换密钥: %v", err)
		s.pool.MarkFailure(key)
		exclude[key] = true
	}
	return fmt.Errorf("%w: %v", ErrAllKeysFailed, lastErr)
}

// InitialSuggestions 取当前本地索引的前几个分块让模型拟三个起始问题。
// 索引为空或调用失败时退回静态默认问题。
func (s *qaService) InitialSuggestions(ctx context.Context) []string {
	idx := s.local.Current()
	if idx == nil || idx.Size() == 0 {
		return defaultSuggestions
	}

	sample := strings.Join(idx.FirstTexts(5), "\n---\n")
	prompt := fmt.Sprintf(`You are an expert document analyst. Based on the following document snippets, suggest exactly 3 unique, engaging, and highly relevant questions a user might want to ask to understand this document better.

Context:
%s

Recall that the questions should be short and concise (max 10 words).

Return ONLY the questions, one per line, starting with a number.`, sample)

	raw, err := s.callLLM(ctx, "", []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		log.Warnf("[QAService] 生成初始问题建议失败: %v", err)
		return defaultSuggestions
	}
	suggestions := parseNumberedLines(raw, 3)
	if len(suggestions) == 0 {
		return defaultSuggestions
	}
	return suggestions
}

// KeyStats 返回密钥池统计。
func (s *qaService) KeyStats() []keypool.KeyStats {
	return s.pool.Stats()
}

// validateQuestion 在向量化之前拒绝空问题与超长问题。
func (s *qaService) validateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}
	if utf8.RuneCountInString(question) > s.ragCfg.MaxQuestionLength {
		return ErrQuestionTooLong
	}
	return nil
}

// composeMessages 组装消息序列：带上下文的 system 消息、
// 截断后的历史轮次、最后是当前问题。
func (s *qaService) composeMessages(results []model.RetrievedChunk, history []model.ChatMessage, question string) []llm.Message {
	contextParts := make([]string, 0, len(results))
	for _, r := range results {
		name := r.FileName
		if name == "" {
			name = "Unknown"
		}
		contextParts = append(contextParts, fmt.Sprintf("[Source: %s]\n%s", name, r.TextContent))
	}

	systemMsg := fmt.Sprintf(`You are a friendly, enthusiastic, and highly intelligent AI assistant. Your goal is to provide impressive, enjoyable, and helpful insights from the document.

Guidelines:
- **Tone**: Be warm, engaging, and slightly conversational.
- **Be Concise but Impressive**: Explain things clearly but with flair.
- **Cite Sources**: Always cite the source file for your information using the format [Source: filename].
- **Structure**: Use clear headers and bullet points for readability.
- **No Hallucinations**: Answer ONLY based on the provided context.
- **Formatting**: Use Markdown for headers (#), bold (**), and lists.

Context:
%s

At the very end of your answer, include a section 'Suggestions:' with exactly 3 short, relevant follow-up questions (maximum 10 words each). Format them as a numbered list (1., 2., 3.).`,
		strings.Join(contextParts, "\n\n---\n\n"))

	bounded := BoundHistory(history, s.ragCfg.MaxHistoryTurns)
	msgs := make([]llm.Message, 0, len(bounded)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemMsg})
	for _, turn := range bounded {
		msgs = append(msgs, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: question})
	return msgs
}

// callLLM 执行每请求的密钥降级状态机：
// 选密钥 → 调用 → 可重试失败则降级该密钥并换下一个，
// 一次请求内同一密钥不会重试两次，尝试次数以池大小为界。
func (s *qaService) callLLM(ctx context.Context, sessionID string, messages []llm.Message) (string, error) {
	exclude := make(map[string]bool)
	var lastErr error
	for attempt := 0; attempt < s.pool.Size(); attempt++ {
		key, err := s.pool.Acquire(sessionID, exclude)
		if err != nil {
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
		answer, err := s.llmClient.Complete(callCtx, key, messages, nil)
		cancel()
		if err == nil {
			s.pool.MarkSuccess(key)
			return answer, nil
		}
		lastErr = err
		if !llm.IsRetryable(err) {
			return "", err
		}
		log.Warnf("[QAService] LLM 调用失败 (attempt %d)，降级切换密钥: %v", attempt+1, err)
		s.pool.MarkFailure(key)
		exclude[key] = true
	}
	return "", fmt.Errorf("%w: %v", ErrAllKeysFailed, lastErr)
}

var (
	citationRe = regexp.MustCompile(`\[Source:\s*(.*?)\]`)
	numberedRe = regexp.MustCompile(`^[\d.\-\s]+`)
)

// ParseAnswer 把模型的原始输出拆成回答正文、引用来源与后续问题建议。
// 来源取正文中实际引用的 [Source: ...]；模型一个都没引用时退回
// 全部候选来源。正文尾部残留的 ** 记号会被清理。
func ParseAnswer(raw string, candidateSources []string) (string, []string, []string) {
	answer := strings.TrimSpace(raw)

	var suggestions []string
	if idx := strings.LastIndex(answer, "Suggestions:"); idx >= 0 {
		tail := answer[idx+len("Suggestions:"):]
		suggestions = parseNumberedLines(tail, 3)
		answer = strings.TrimSpace(answer[:idx])
		answer = strings.TrimSuffix(answer, "**")
		answer = strings.TrimSuffix(answer, "#")
		answer = strings.TrimSpace(answer)
	}

	for strings.HasSuffix(answer, "**") {
		answer = strings.TrimSpace(strings.TrimSuffix(answer, "**"))
	}
	if strings.HasSuffix(answer, "**.") {
		answer = strings.TrimSpace(strings.TrimSuffix(answer, "**.")) + "."
	}

	var sources []string
	seen := make(map[string]bool)
	for _, match := range citationRe.FindAllStringSubmatch(answer, -1) {
		src := strings.TrimSpace(strings.ReplaceAll(match[1], "**", ""))
		if src == "" || src == "Unknown" || seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		sources = append(sources, candidateSources...)
	}
	if sources == nil {
		sources = []string{}
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	return answer, sources, suggestions
}

// parseNumberedLines 从模型输出中提取编号列表项，最多 limit 条。
func parseNumberedLines(text string, limit int) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		clean := strings.TrimSpace(numberedRe.ReplaceAllString(line, ""))
		clean = strings.Trim(clean, "*")
		if clean == "" {
			continue
		}
		items = append(items, clean)
		if len(items) == limit {
			break
		}
	}
	return items
}

// sourceNames 收集检索结果的去重来源文件名，保持命中顺序。
func sourceNames(results []model.RetrievedChunk) []string {
	var names []string
	seen := make(map[string]bool)
	for _, r := range results {
		if r.FileName == "" || seen[r.FileName] {
			continue
		}
		seen[r.FileName] = true
		names = append(names, r.FileName)
	}
	return names
}

// streamInterceptor 封装下游 writer：捕获完整回答文本，
// 把原始分块包装成 {"chunk":"..."}，并在停止标志生效后跳过下发。
type streamInterceptor struct {
	writer     llm.MessageWriter
	builder    strings.Builder
	shouldStop func() bool
}

func newStreamInterceptor(writer llm.MessageWriter, shouldStop func() bool) *streamInterceptor {
	return &streamInterceptor{writer: writer, shouldStop: shouldStop}
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *streamInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发，但继续累积完整回答
		w.builder.Write(data)
		return nil
	}
	w.builder.Write(data)
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.writer.WriteMessage(messageType, b)
}

func (w *streamInterceptor) String() string { return w.builder.String() }

func (w *streamInterceptor) Written() bool { return w.builder.Len() > 0 }

// sendCompletion 发送携带来源与建议的完成通知帧。
func sendCompletion(writer llm.MessageWriter, sources, suggestions []string) {
	notif := map[string]interface{}{
		"type":        "completion",
		"status":      "finished",
		"message":     "响应已完成",
		"sources":     sources,
		"suggestions": suggestions,
		"timestamp":   time.Now().UnixMilli(),
		"date":        time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = writer.WriteMessage(websocket.TextMessage, b)
}
