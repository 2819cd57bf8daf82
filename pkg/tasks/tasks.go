// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// FileSyncTask represents one file's ingestion job produced by the sync reconciler.
type FileSyncTask struct {
	FileID       string    `json:"file_id"`
	FileName     string    `json:"file_name"`
	MimeType     string    `json:"mime_type"`
	ModifiedTime time.Time `json:"modified_time"`
}
