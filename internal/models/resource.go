package models

import "time"

// Resource is file metadata attached to a classroom. The bytes live behind
// the storage collaborator; this row only records what was stored where.
type Resource struct {
	ID          string    `db:"id" json:"id"`
	ClassroomID string    `db:"classroom_id" json:"classroom_id"`
	UploaderID  string    `db:"uploader_id" json:"uploader_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	FilePath    string    `db:"file_path" json:"file_path"`
	FileType    string    `db:"file_type" json:"file_type"`
	FileSize    int64     `db:"file_size" json:"file_size"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ResourceDetail extends a resource with uploader metadata.
type ResourceDetail struct {
	Resource
	UploaderName string `db:"uploader_name" json:"uploader_name"`
}
