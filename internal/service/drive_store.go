// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"time"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/repository"
	"doc-chat-go/pkg/es"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/storage"
)

// DriveStore 是持久向量库的操作接口：Elasticsearch 分块索引加
// MySQL 文件级注册表。Upsert 按文件整体替换（先删后批量写），
// 保证重新分块后的编号漂移不会留下旧版本的孤儿分块。
type DriveStore interface {
	// Upsert 整体替换一个文件的全部分块，成功后推进注册表里的 modified_time。
	Upsert(ctx context.Context, fileID, fileName string, modifiedTime time.Time, chunks []model.Chunk) error
	// Delete 移除一个文件的分块、注册表记录与归档对象。
	Delete(ctx context.Context, fileID string) error
	// Search 对查询向量执行服务端 kNN 检索。
	Search(ctx context.Context, queryVector []float32, k int) ([]model.RetrievedChunk, error)
	// Ping 探测底层存储可达性。
	Ping(ctx context.Context) error
	// ListFiles 返回注册表中的全部文件元数据。
	ListFiles() ([]model.DriveFile, error)
}

type esDriveStore struct {
	esCfg        config.ElasticsearchConfig
	minioCfg     config.MinIOConfig
	repo         repository.DriveFileRepository
	modelVersion string
}

// NewDriveStore 创建一个以 Elasticsearch 为底座的 DriveStore。
func NewDriveStore(esCfg config.ElasticsearchConfig, minioCfg config.MinIOConfig, repo repository.DriveFileRepository, modelVersion string) DriveStore {
	return &esDriveStore{
		esCfg:        esCfg,
		minioCfg:     minioCfg,
		repo:         repo,
		modelVersion: modelVersion,
	}
}

// Upsert 先按 file_id 清空旧分块，再一次 _bulk 写入新分块。
// 批量写失败时旧数据已删、注册表未推进：该文件在下一轮同步会被
// 完整重做，不会出现新旧版本混存。
func (s *esDriveStore) Upsert(ctx context.Context, fileID, fileName string, modifiedTime time.Time, chunks []model.Chunk) error {
	log.Infof("[DriveStore] 开始替换文件分块, FileID: %s, 分块数: %d", fileID, len(chunks))

	if err := es.DeleteByFileID(ctx, s.esCfg.IndexName, fileID); err != nil {
		return fmt.Errorf("清理文件 %s 的旧分块失败: %w", fileID, err)
	}

	docs := make([]model.EsChunkDocument, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, model.EsChunkDocument{
			VectorID:     fmt.Sprintf("%s_%d", fileID, i),
			FileID:       fileID,
			FileName:     fileName,
			ChunkID:      i,
			TextContent:  chunk.Text,
			Vector:       chunk.Embedding,
			ModelVersion: s.modelVersion,
			ModifiedTime: modifiedTime,
		})
	}
	if err := es.BulkIndexChunks(ctx, s.esCfg.IndexName, docs); err != nil {
		return fmt.Errorf("写入文件 %s 的新分块失败: %w", fileID, err)
	}

	if err := s.repo.Save(&model.DriveFile{
		FileID:       fileID,
		FileName:     fileName,
		ModifiedTime: modifiedTime,
		ChunkCount:   len(chunks),
	}); err != nil {
		return fmt.Errorf("更新文件 %s 的注册表记录失败: %w", fileID, err)
	}

	log.Infof("[DriveStore] 文件分块替换完成, FileID: %s", fileID)
	return nil
}

// Delete 移除文件的分块文档、注册表记录与 MinIO 归档。
// 归档对象删除失败只告警：它不参与检索一致性。
func (s *esDriveStore) Delete(ctx context.Context, fileID string) error {
	log.Infof("[DriveStore] 开始删除文件, FileID: %s", fileID)

	if err := es.DeleteByFileID(ctx, s.esCfg.IndexName, fileID); err != nil {
		return fmt.Errorf("删除文件 %s 的分块失败: %w", fileID, err)
	}
	if err := s.repo.Delete(fileID); err != nil {
		return fmt.Errorf("删除文件 %s 的注册表记录失败: %w", fileID, err)
	}
	if err := storage.RemoveDriveFile(ctx, s.minioCfg.BucketName, fileID); err != nil {
		log.Warnf("[DriveStore] 删除文件 %s 的归档对象失败: %v", fileID, err)
	}
	return nil
}

// Search 执行服务端 kNN 检索并换装为带来源的检索结果。
func (s *esDriveStore) Search(ctx context.Context, queryVector []float32, k int) ([]model.RetrievedChunk, error) {
	hits, err := es.KnnSearch(ctx, s.esCfg.IndexName, queryVector, k)
	if err != nil {
		return nil, err
	}
	results := make([]model.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		results = append(results, model.RetrievedChunk{
			FileID:      hit.Doc.FileID,
			FileName:    hit.Doc.FileName,
			TextContent: hit.Doc.TextContent,
			Score:       hit.Score,
		})
	}
	return results, nil
}

// Ping 探测 Elasticsearch 可达性。
func (s *esDriveStore) Ping(ctx context.Context) error {
	return es.Ping(ctx)
}

// ListFiles 返回注册表中全部文件的元数据。
func (s *esDriveStore) ListFiles() ([]model.DriveFile, error) {
	return s.repo.FindAll()
}
