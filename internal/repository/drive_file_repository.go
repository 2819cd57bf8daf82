// Package repository 封装了对数据库的访问。
package repository

import (
	"time"

	"doc-chat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DriveFileRepository 定义了对 drive_files 表的数据操作接口。
// 它是持久向量库的文件级注册表：同步对账据此判断新增/修改/删除。
type DriveFileRepository interface {
	Save(file *model.DriveFile) error
	Delete(fileID string) error
	FindByID(fileID string) (*model.DriveFile, error)
	FindAll() ([]model.DriveFile, error)
	KnownModifiedTimes() (map[string]time.Time, error)
	Count() (int64, error)
}

type driveFileRepository struct {
	db *gorm.DB
}

// NewDriveFileRepository 创建一个新的 DriveFileRepository 实例。
func NewDriveFileRepository(db *gorm.DB) DriveFileRepository {
	return &driveFileRepository{db: db}
}

// Save 写入或更新一条文件记录（按 file_id upsert）。
func (r *driveFileRepository) Save(file *model.DriveFile) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_name", "modified_time", "chunk_count", "synced_at"}),
	}).Create(file).Error
}

// Delete 删除一条文件记录。
func (r *driveFileRepository) Delete(fileID string) error {
	return r.db.Where("file_id = ?", fileID).Delete(&model.DriveFile{}).Error
}

// FindByID 按 file_id 查找一条文件记录，不存在时返回 gorm.ErrRecordNotFound。
func (r *driveFileRepository) FindByID(fileID string) (*model.DriveFile, error) {
	var file model.DriveFile
	if err := r.db.Where("file_id = ?", fileID).First(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// FindAll 返回全部已同步文件的元数据，按文件名排序。
func (r *driveFileRepository) FindAll() ([]model.DriveFile, error) {
	var files []model.DriveFile
	err := r.db.Order("file_name").Find(&files).Error
	return files, err
}

// KnownModifiedTimes 返回 file_id 到已处理 modified_time 的映射，
// 是同步对账第一步加载的已知状态。
func (r *driveFileRepository) KnownModifiedTimes() (map[string]time.Time, error) {
	files, err := r.FindAll()
	if err != nil {
		return nil, err
	}
	known := make(map[string]time.Time, len(files))
	for _, f := range files {
		known[f.FileID] = f.ModifiedTime
	}
	return known, nil
}

// Count 返回已同步文件总数。
func (r *driveFileRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.DriveFile{}).Count(&count).Error
	return count, err
}
