package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"doc-chat-go/internal/model"
	"doc-chat-go/pkg/drive"
	"doc-chat-go/pkg/tasks"
)

type fakeDriveClient struct {
	files []drive.RemoteFile
	err   error
}

func (f *fakeDriveClient) ListFiles(ctx context.Context) ([]drive.RemoteFile, error) {
	return f.files, f.err
}

func (f *fakeDriveClient) Download(ctx context.Context, file drive.RemoteFile) ([]byte, error) {
	return []byte("content"), nil
}

// fakeDriveFileRepo 只实现对账用到的读路径。
type fakeDriveFileRepo struct {
	known map[string]time.Time
	err   error
}

func (f *fakeDriveFileRepo) Save(file *model.DriveFile) error { return nil }
func (f *fakeDriveFileRepo) Delete(fileID string) error       { return nil }
func (f *fakeDriveFileRepo) FindByID(fileID string) (*model.DriveFile, error) {
	return nil, errors.New("not found")
}
func (f *fakeDriveFileRepo) FindAll() ([]model.DriveFile, error) { return nil, nil }
func (f *fakeDriveFileRepo) Count() (int64, error)               { return int64(len(f.known)), nil }
func (f *fakeDriveFileRepo) KnownModifiedTimes() (map[string]time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]time.Time, len(f.known))
	for k, v := range f.known {
		out[k] = v
	}
	return out, nil
}

type fakeDriveStore struct {
	deleted []string
	pingErr error
}

func (f *fakeDriveStore) Upsert(ctx context.Context, fileID, fileName string, modifiedTime time.Time, chunks []model.Chunk) error {
	return nil
}
func (f *fakeDriveStore) Delete(ctx context.Context, fileID string) error {
	f.deleted = append(f.deleted, fileID)
	return nil
}
func (f *fakeDriveStore) Search(ctx context.Context, queryVector []float32, k int) ([]model.RetrievedChunk, error) {
	return nil, nil
}
func (f *fakeDriveStore) Ping(ctx context.Context) error            { return f.pingErr }
func (f *fakeDriveStore) ListFiles() ([]model.DriveFile, error)     { return nil, nil }

func remoteFile(id string, modified time.Time) drive.RemoteFile {
	return drive.RemoteFile{ID: id, Name: id + ".pdf", MimeType: "application/pdf", ModifiedTime: modified}
}

func TestSyncNowQueuesNewAndModifiedFiles(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeDriveFileRepo{known: map[string]time.Time{
		"unchanged": t0,
		"modified":  t0,
	}}
	client := &fakeDriveClient{files: []drive.RemoteFile{
		remoteFile("unchanged", t0),
		remoteFile("modified", t0.Add(time.Hour)),
		remoteFile("brand-new", t0),
	}}
	store := &fakeDriveStore{}

	var queued []tasks.FileSyncTask
	enqueue := func(task tasks.FileSyncTask) error {
		queued = append(queued, task)
		return nil
	}
	svc := NewSyncService(client, repo, store, enqueue, "folder-1")

	summary, err := svc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error: %v", err)
	}
	if summary.Queued != 2 {
		t.Errorf("Queued = %d, want 2", summary.Queued)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if summary.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0", summary.Deleted)
	}

	got := make(map[string]bool)
	for _, task := range queued {
		got[task.FileID] = true
	}
	if !got["modified"] || !got["brand-new"] {
		t.Errorf("投递的任务不正确: %v", got)
	}
	if got["unchanged"] {
		t.Error("时间戳未变化的文件不应被投递")
	}
}

func TestSyncNowEqualTimestampIsSkipped(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeDriveFileRepo{known: map[string]time.Time{"a": t0}}
	client := &fakeDriveClient{files: []drive.RemoteFile{remoteFile("a", t0)}}

	enqueued := 0
	svc := NewSyncService(client, repo, &fakeDriveStore{}, func(tasks.FileSyncTask) error {
		enqueued++
		return nil
	}, "folder-1")

	summary, err := svc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error: %v", err)
	}
	if enqueued != 0 || summary.Skipped != 1 {
		t.Errorf("相同时间戳应整体跳过: enqueued=%d, skipped=%d", enqueued, summary.Skipped)
	}
}

func TestSyncNowDeletesVanishedFiles(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeDriveFileRepo{known: map[string]time.Time{
		"kept":    t0,
		"removed": t0,
	}}
	client := &fakeDriveClient{files: []drive.RemoteFile{remoteFile("kept", t0)}}
	store := &fakeDriveStore{}

	svc := NewSyncService(client, repo, store, func(tasks.FileSyncTask) error { return nil }, "folder-1")
	summary, err := svc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error: %v", err)
	}
	if summary.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", summary.Deleted)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "removed" {
		t.Errorf("删除的文件不正确: %v", store.deleted)
	}
}

func TestSyncNowAbortsWhenDriveUnreachable(t *testing.T) {
	repo := &fakeDriveFileRepo{known: map[string]time.Time{"a": time.Now()}}
	client := &fakeDriveClient{err: errors.New("connection refused")}
	store := &fakeDriveStore{}

	enqueued := 0
	svc := NewSyncService(client, repo, store, func(tasks.FileSyncTask) error {
		enqueued++
		return nil
	}, "folder-1")

	if _, err := svc.SyncNow(context.Background()); err == nil {
		t.Fatal("远端不可达时应返回错误")
	}
	if enqueued != 0 {
		t.Errorf("中止的对账不应投递任务, 实际投递 %d 个", enqueued)
	}
	if len(store.deleted) != 0 {
		t.Errorf("中止的对账不应删除文件, 实际删除 %v", store.deleted)
	}
}

func TestSyncNowIdempotentSecondPass(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	remote := []drive.RemoteFile{remoteFile("a", t0), remoteFile("b", t0)}
	client := &fakeDriveClient{files: remote}

	// 第一轮：注册表为空，两个文件都入队
	repo := &fakeDriveFileRepo{known: map[string]time.Time{}}
	first := 0
	svc := NewSyncService(client, repo, &fakeDriveStore{}, func(tasks.FileSyncTask) error {
		first++
		return nil
	}, "folder-1")
	if _, err := svc.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow() error: %v", err)
	}
	if first != 2 {
		t.Fatalf("首轮应投递 2 个任务, got %d", first)
	}

	// 第二轮：注册表已推进到远端时间戳，不应产生任何任务
	repo2 := &fakeDriveFileRepo{known: map[string]time.Time{"a": t0, "b": t0}}
	second := 0
	svc2 := NewSyncService(client, repo2, &fakeDriveStore{}, func(tasks.FileSyncTask) error {
		second++
		return nil
	}, "folder-1")
	summary, err := svc2.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() error: %v", err)
	}
	if second != 0 {
		t.Errorf("无变化的第二轮投递了 %d 个任务", second)
	}
	if summary.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", summary.Skipped)
	}
}

func TestStatusWhenStoreUnreachable(t *testing.T) {
	svc := NewSyncService(&fakeDriveClient{}, &fakeDriveFileRepo{}, &fakeDriveStore{pingErr: errors.New("down")},
		func(tasks.FileSyncTask) error { return nil }, "folder-1")

	status, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status.Connected {
		t.Error("存储不可达时 Connected 应为 false")
	}
	if status.Files == nil {
		t.Error("Files 应为空切片而非 nil")
	}
}
