package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/repository"
	"doc-chat-go/pkg/database"
	"doc-chat-go/pkg/drive"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/tasks"
)

const lastSyncKey = "drive:last_sync"

// SyncSummary 汇报一次对账的结果。
type SyncSummary struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Queued    int       `json:"queued"`
	Deleted   int       `json:"deleted"`
	Skipped   int       `json:"skipped"`
}

// DriveStatus 是状态查询接口的只读结果。
type DriveStatus struct {
	Connected bool              `json:"connected"`
	FolderID  string            `json:"folder_id"`
	IsSyncing bool              `json:"is_syncing"`
	FileCount int               `json:"total_files"`
	Files     []model.DriveFile `json:"files"`
	LastSync  *SyncSummary      `json:"last_sync,omitempty"`
}

// SyncService 把远端文件夹快照对账到持久向量库。
// 对账是幂等的：远端无变化时第二次运行不产生任何上载任务。
type SyncService interface {
	// SyncNow 同步执行一次完整对账。
	SyncNow(ctx context.Context) (*SyncSummary, error)
	// TriggerSync 发即忘地触发一次对账，立即返回。
	TriggerSync()
	// StartScheduler 按固定间隔循环触发对账，直到 ctx 结束。
	StartScheduler(ctx context.Context, interval time.Duration)
	// Status 返回持久库可达性、文件清单与最近一次对账摘要。
	Status(ctx context.Context) (*DriveStatus, error)
}

type syncService struct {
	driveClient drive.Client
	repo        repository.DriveFileRepository
	store       DriveStore
	enqueue     func(tasks.FileSyncTask) error
	folderID    string
	syncing     atomic.Bool
	lastSummary atomic.Pointer[SyncSummary]
}

// NewSyncService 创建一个新的 SyncService 实例。
// enqueue 把单文件任务投递到处理队列（生产环境为 Kafka）。
func NewSyncService(driveClient drive.Client, repo repository.DriveFileRepository, store DriveStore, enqueue func(tasks.FileSyncTask) error, folderID string) SyncService {
	return &syncService{
		driveClient: driveClient,
		repo:        repo,
		store:       store,
		enqueue:     enqueue,
		folderID:    folderID,
	}
}

// SyncNow 执行一轮对账：
//  1. 从注册表加载已知的 file_id → modified_time；
//  2. 拉取远端快照，失败则干净中止（不产生半程状态）；
//  3. 新文件或 modified_time 前进的文件投递同步任务，时间戳不变的整体跳过；
//  4. 注册表中存在但远端已消失的文件就地删除。
//
// 时间戳比较用严格的 After：相等视为未变化，重复运行是零开销的空转。
func (s *syncService) SyncNow(ctx context.Context) (*SyncSummary, error) {
	s.syncing.Store(true)
	defer s.syncing.Store(false)

	start := time.Now()
	log.Info("[SyncService] 开始 Drive 对账")

	known, err := s.repo.KnownModifiedTimes()
	if err != nil {
		return nil, fmt.Errorf("加载已同步文件元数据失败: %w", err)
	}

	remote, err := s.driveClient.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取远端文件快照失败: %w", err)
	}
	log.Infof("[SyncService] 远端快照 %d 个文件, 本地已知 %d 个", len(remote), len(known))

	summary := &SyncSummary{StartedAt: start}
	seen := make(map[string]bool, len(remote))
	for _, f := range remote {
		seen[f.ID] = true
		knownTime, ok := known[f.ID]
		if ok && !f.ModifiedTime.After(knownTime) {
			summary.Skipped++
			continue
		}
		task := tasks.FileSyncTask{
			FileID:       f.ID,
			FileName:     f.Name,
			MimeType:     f.MimeType,
			ModifiedTime: f.ModifiedTime,
		}
		if err := s.enqueue(task); err != nil {
			return nil, fmt.Errorf("投递文件同步任务失败 (file_id=%s): %w", f.ID, err)
		}
		log.Infof("[SyncService] 已投递同步任务: %s (%s)", f.Name, f.ID)
		summary.Queued++
	}

	for fileID := range known {
		if seen[fileID] {
			continue
		}
		if err := s.store.Delete(ctx, fileID); err != nil {
			return nil, fmt.Errorf("删除远端已移除的文件失败 (file_id=%s): %w", fileID, err)
		}
		log.Infof("[SyncService] 已删除远端不存在的文件: %s", fileID)
		summary.Deleted++
	}

	summary.Duration = time.Since(start).String()
	s.lastSummary.Store(summary)
	s.persistSummary(ctx, summary)
	log.Infof("[SyncService] 对账完成: 投递 %d, 删除 %d, 跳过 %d, 耗时 %s",
		summary.Queued, summary.Deleted, summary.Skipped, summary.Duration)
	return summary, nil
}

// TriggerSync 在后台启动一次对账；已有对账在跑时直接忽略本次触发。
func (s *syncService) TriggerSync() {
	if s.syncing.Load() {
		log.Info("[SyncService] 已有对账正在运行，忽略本次触发")
		return
	}
	go func() {
		if _, err := s.SyncNow(context.Background()); err != nil {
			log.Errorf("[SyncService] 后台对账失败: %v", err)
		}
	}()
}

// StartScheduler 周期性触发对账。独立于请求处理，不阻塞问答链路。
func (s *syncService) StartScheduler(ctx context.Context, interval time.Duration) {
	log.Infof("[SyncService] 定时对账已启动, 间隔: %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("[SyncService] 定时对账已停止")
			return
		case <-ticker.C:
			s.TriggerSync()
		}
	}
}

// Status 汇总持久库可达性、文件清单与最近一次对账摘要。
func (s *syncService) Status(ctx context.Context) (*DriveStatus, error) {
	status := &DriveStatus{
		FolderID:  s.folderID,
		IsSyncing: s.syncing.Load(),
	}

	if err := s.store.Ping(ctx); err != nil {
		log.Warnf("[SyncService] 持久库不可达: %v", err)
		status.Files = []model.DriveFile{}
		return status, nil
	}
	status.Connected = true

	files, err := s.store.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("读取文件清单失败: %w", err)
	}
	status.Files = files
	status.FileCount = len(files)
	status.LastSync = s.loadSummary(ctx)
	return status, nil
}

// persistSummary 把最近一次对账摘要写入 Redis，进程重启后状态页仍可用。
func (s *syncService) persistSummary(ctx context.Context, summary *SyncSummary) {
	if database.RDB == nil {
		return
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := database.RDB.Set(ctx, lastSyncKey, b, 0).Err(); err != nil {
		log.Warnf("[SyncService] 保存对账摘要到 Redis 失败: %v", err)
	}
}

// loadSummary 优先取进程内缓存，缺失时回读 Redis。
func (s *syncService) loadSummary(ctx context.Context) *SyncSummary {
	if summary := s.lastSummary.Load(); summary != nil {
		return summary
	}
	if database.RDB == nil {
		return nil
	}
	b, err := database.RDB.Get(ctx, lastSyncKey).Bytes()
	if err != nil {
		return nil
	}
	var summary SyncSummary
	if err := json.Unmarshal(b, &summary); err != nil {
		return nil
	}
	return &summary
}
