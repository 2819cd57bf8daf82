// Package pipeline 定义了单文件入库的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"doc-chat-go/internal/chunker"
	"doc-chat-go/internal/config"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/drive"
	"doc-chat-go/pkg/embedding"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/storage"
	"doc-chat-go/pkg/tasks"
	"doc-chat-go/pkg/tika"
)

// Processor 封装了单个 Drive 文件入库的所有依赖和逻辑。
type Processor struct {
	driveClient     drive.Client
	tikaClient      *tika.Client
	embeddingClient embedding.Client
	store           service.DriveStore
	minioCfg        config.MinIOConfig
	ragCfg          config.RAGConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	driveClient drive.Client,
	tikaClient *tika.Client,
	embeddingClient embedding.Client,
	store service.DriveStore,
	minioCfg config.MinIOConfig,
	ragCfg config.RAGConfig,
) *Processor {
	return &Processor{
		driveClient:     driveClient,
		tikaClient:      tikaClient,
		embeddingClient: embeddingClient,
		store:           store,
		minioCfg:        minioCfg,
		ragCfg:          ragCfg,
	}
}

// Process 处理一个文件同步任务：下载、提取、分块、向量化、写入持久库。
// 同一 file_id 的任务由队列按 key 串行投递，因此这里无需加锁。
func (p *Processor) Process(ctx context.Context, task tasks.FileSyncTask) error {
	log.Infof("[Processor] 开始处理文件, FileID: %s, FileName: %s", task.FileID, task.FileName)

	// 1. 从 Drive 下载文件内容
	log.Infof("[Processor] 步骤1: 从Drive下载文件, FileID: %s, MimeType: %s", task.FileID, task.MimeType)
	remote := drive.RemoteFile{
		ID:           task.FileID,
		Name:         task.FileName,
		MimeType:     task.MimeType,
		ModifiedTime: task.ModifiedTime,
	}
	data, err := p.driveClient.Download(ctx, remote)
	if err != nil {
		log.Errorf("[Processor] 从Drive下载文件失败, FileID: %s, Error: %v", task.FileID, err)
		return fmt.Errorf("从 Drive 下载文件失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 大小: %d字节", len(data))
	if len(data) == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.FileName)
		return errors.New("文件内容为空")
	}

	// 2. 归档原始文件到 MinIO，供后续下载接口取用；归档失败不阻断入库
	log.Infof("[Processor] 步骤2: 归档原始文件到MinIO, Object: %s", storage.DriveObjectName(task.FileID))
	if err := storage.ArchiveDriveFile(ctx, p.minioCfg.BucketName, task.FileID, data, task.MimeType); err != nil {
		log.Warnf("[Processor] 归档文件到MinIO失败, FileID: %s, Error: %v", task.FileID, err)
	}

	// 3. 使用 Tika 提取文本
	log.Info("[Processor] 步骤3: 使用Tika提取文本内容")
	extractName := task.FileName
	if strings.HasPrefix(task.MimeType, "application/vnd.google-apps") {
		// google-apps 文档已在下载时导出为 PDF
		extractName = task.FileName + ".pdf"
	}
	textContent, err := p.tikaClient.ExtractText(ctx, bytes.NewReader(data), extractName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", task.FileName, err)
		return fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	if textContent == "" {
		log.Warnf("[Processor] Tika提取的文本内容为空, 处理中止, FileName: %s", task.FileName)
		return errors.New("提取的文本内容为空")
	}
	log.Infof("[Processor] 步骤3: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	// 4. 文本切块
	log.Infof("[Processor] 步骤4: 进行文本分块, chunkSize: %d, chunkOverlap: %d", p.ragCfg.ChunkSize, p.ragCfg.ChunkOverlap)
	pieces := chunker.Split(textContent, p.ragCfg.ChunkSize, p.ragCfg.ChunkOverlap)
	log.Infof("[Processor] 步骤4: 文本分块完成, 共生成 %d 个分块", len(pieces))
	if len(pieces) == 0 {
		log.Warnf("[Processor] 未生成任何文本分块, 处理中止, FileName: %s", task.FileName)
		return errors.New("未生成任何文本分块")
	}

	// 5. 批量向量化
	log.Infof("[Processor] 步骤5: 调用Embedding服务进行批量向量化, 分块数: %d", len(pieces))
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, pieces)
	if err != nil {
		log.Errorf("[Processor] 批量向量化失败, FileName: %s, Error: %v", task.FileName, err)
		return fmt.Errorf("批量向量化失败: %w", err)
	}

	chunks := make([]model.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		if vectors[i] == nil {
			log.Warnf("[Processor] 分块 %d 向量化失败, 已跳过, FileName: %s", i, task.FileName)
			continue
		}
		chunks = append(chunks, model.Chunk{
			ID:         fmt.Sprintf("%s_%d", task.FileID, i),
			Text:       piece,
			SourceName: task.FileName,
			Embedding:  vectors[i],
			CreatedAt:  time.Now(),
		})
	}
	if len(chunks) == 0 {
		log.Warnf("[Processor] 所有分块向量化均失败, 处理中止, FileName: %s", task.FileName)
		return errors.New("所有分块向量化均失败")
	}
	log.Infof("[Processor] 步骤5: 向量化完成, 有效分块数: %d", len(chunks))

	// 6. 原子写入持久库（先删后写，成功后推进注册表）
	log.Info("[Processor] 步骤6: 写入持久向量库")
	if err := p.store.Upsert(ctx, task.FileID, task.FileName, task.ModifiedTime, chunks); err != nil {
		log.Errorf("[Processor] 写入持久向量库失败, FileID: %s, Error: %v", task.FileID, err)
		return fmt.Errorf("写入持久向量库失败: %w", err)
	}

	log.Infof("[Processor] 文件处理完成, FileID: %s, FileName: %s, 分块数: %d", task.FileID, task.FileName, len(chunks))
	return nil
}
