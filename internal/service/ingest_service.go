package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"time"
	"unicode/utf8"

	"doc-chat-go/internal/chunker"
	"doc-chat-go/internal/config"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/embedding"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/tika"
)

// ErrNoValidDocuments 表示整批上传没有产出任何可索引的分块。
var ErrNoValidDocuments = errors.New("没有可用的文档内容")

// IngestResult 汇报一次本地上传批次的处理结果。
// 单个文档的失败不中断批次其余文档，按文件记录原因。
type IngestResult struct {
	Files      []string          `json:"files"`
	ChunkCount int               `json:"chunks"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// IngestService 处理本地上传：提取文本、分块、向量化，
// 并整体重建进程内索引。每次上传无条件替换上一次的索引。
type IngestService interface {
	IngestUploads(ctx context.Context, files []*multipart.FileHeader) (*IngestResult, error)
}

type ingestService struct {
	tikaClient      *tika.Client
	embeddingClient embedding.Client
	local           *vectorstore.Holder
	ragCfg          config.RAGConfig
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(tikaClient *tika.Client, embeddingClient embedding.Client, local *vectorstore.Holder, ragCfg config.RAGConfig) IngestService {
	return &ingestService{
		tikaClient:      tikaClient,
		embeddingClient: embeddingClient,
		local:           local,
		ragCfg:          ragCfg,
	}
}

// IngestUploads 逐文件提取与分块，整批一次性向量化后重建本地索引。
func (s *ingestService) IngestUploads(ctx context.Context, files []*multipart.FileHeader) (*IngestResult, error) {
	if len(files) == 0 {
		return nil, ErrNoValidDocuments
	}

	result := &IngestResult{Failed: make(map[string]string)}
	var texts []string
	var sourceNames []string

	for _, fh := range files {
		log.Infof("[Ingest] 步骤1: 提取文档文本, FileName: %s", fh.Filename)
		text, err := s.extractText(ctx, fh)
		if err != nil {
			log.Warnf("[Ingest] 文档 '%s' 处理失败: %v", fh.Filename, err)
			result.Failed[fh.Filename] = err.Error()
			continue
		}

		pieces := chunker.Split(text, s.ragCfg.ChunkSize, s.ragCfg.ChunkOverlap)
		if len(pieces) == 0 {
			result.Failed[fh.Filename] = "未生成任何文本分块"
			continue
		}
		log.Infof("[Ingest] 步骤2: 文档 '%s' 分块完成, 共 %d 块", fh.Filename, len(pieces))

		for _, piece := range pieces {
			texts = append(texts, piece)
			sourceNames = append(sourceNames, fh.Filename)
		}
		result.Files = append(result.Files, fh.Filename)
	}

	if len(texts) == 0 {
		return result, ErrNoValidDocuments
	}

	log.Infof("[Ingest] 步骤3: 批量向量化 %d 个分块", len(texts))
	vectors, err := s.embeddingClient.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("批量向量化失败: %w", err)
	}

	now := time.Now()
	perSource := make(map[string]int)
	chunks := make([]model.Chunk, 0, len(texts))
	skipped := 0
	for i, vec := range vectors {
		if vec == nil {
			skipped++
			continue
		}
		name := sourceNames[i]
		chunks = append(chunks, model.Chunk{
			ID:         fmt.Sprintf("%s_%d", name, perSource[name]),
			Text:       texts[i],
			SourceName: name,
			Embedding:  vec,
			CreatedAt:  now,
		})
		perSource[name]++
	}
	if skipped > 0 {
		log.Warnf("[Ingest] 向量化跳过 %d 个分块", skipped)
	}
	if len(chunks) == 0 {
		return result, ErrNoValidDocuments
	}

	// 原子替换：并发查询只会看到旧索引或完整的新索引
	if err := s.local.Rebuild(chunks); err != nil {
		return nil, fmt.Errorf("重建本地索引失败: %w", err)
	}
	result.ChunkCount = len(chunks)
	log.Infof("[Ingest] 步骤4: 本地索引重建完成, 文档数: %d, 分块数: %d", len(result.Files), len(chunks))
	return result, nil
}

// extractText 打开上传文件并交给 Tika 提取纯文本。
func (s *ingestService) extractText(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer f.Close()

	text, err := s.tikaClient.ExtractText(ctx, f, fh.Filename)
	if err != nil {
		return "", fmt.Errorf("提取文本失败: %w", err)
	}
	if utf8.RuneCountInString(text) == 0 {
		return "", errors.New("提取的文本内容为空")
	}
	return text, nil
}
