// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// DriveFile 对应于数据库中的 drive_files 表。
// 它是持久向量库的文件级元数据：同步对账以 ModifiedTime 判断增量。
type DriveFile struct {
	FileID       string    `gorm:"primaryKey;type:varchar(128);column:file_id" json:"file_id"`
	FileName     string    `gorm:"type:varchar(255);not null;column:file_name" json:"file_name"`
	ModifiedTime time.Time `gorm:"not null;column:modified_time" json:"modified_time"`
	ChunkCount   int       `gorm:"not null;default:0;column:chunk_count" json:"chunk_count"`
	SyncedAt     time.Time `gorm:"autoUpdateTime;column:synced_at" json:"synced_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DriveFile) TableName() string {
	return "drive_files"
}
