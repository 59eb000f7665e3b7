package db

import (
	"encoding/json"
	"time"
)

// Job maps websets.jobs, the Postgres realization of the spec's Mongo-flavored
// `jobs` collection (indexed by jobId, createdAt desc, status+createdAt,
// entityType+createdAt).
type Job struct {
	JobID             string          `gorm:"column:job_id;type:text;primaryKey"`
	OriginalQuery     string          `gorm:"column:original_query;type:text;not null"`
	EntityType        *string         `gorm:"column:entity_type;type:text;index:idx_jobs_entity_type_created_at,priority:1"`
	Status            string          `gorm:"column:status;type:text;not null;index:idx_jobs_status_created_at,priority:1"`
	TotalItems        int             `gorm:"column:total_items;type:integer;not null;default:0"`
	UniqueItems       int             `gorm:"column:unique_items;type:integer;not null;default:0"`
	DuplicatesRejected int            `gorm:"column:duplicates_rejected;type:integer;not null;default:0"`
	RejectionReasons  json.RawMessage `gorm:"column:rejection_reasons;type:jsonb;not null;default:'{}'"`
	NextCursor        *string         `gorm:"column:next_cursor;type:text"`
	ErrorMessage      *string         `gorm:"column:error_message;type:text"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now();index:idx_jobs_status_created_at,priority:2;index:idx_jobs_entity_type_created_at,priority:2"`
	CompletedAt       *time.Time      `gorm:"column:completed_at;type:timestamptz"`
}

func (Job) TableName() string { return "websets.jobs" }

// Item maps websets.items, the Postgres realization of the spec's
// Mongo-flavored `items` collection (indexed by (jobId,status),
// (jobId,createdAt), (normalizedTitle,jobId), rejectedBy,
// (rejectionReason,jobId)).
type Item struct {
	ID                int64           `gorm:"column:id;primaryKey;autoIncrement"`
	JobID             string          `gorm:"column:job_id;type:text;not null;uniqueIndex:idx_items_job_item,priority:1;index:idx_items_job_status,priority:1;index:idx_items_job_created_at,priority:1;index:idx_items_normalized_title,priority:2;index:idx_items_rejection_reason,priority:2"`
	ItemID            string          `gorm:"column:item_id;type:text;not null;uniqueIndex:idx_items_job_item,priority:2"`
	Name              string          `gorm:"column:name;type:text;not null;default:''"`
	URL               string          `gorm:"column:url;type:text;not null;default:''"`
	Properties        json.RawMessage `gorm:"column:properties;type:jsonb"`
	RawData           json.RawMessage `gorm:"column:raw_data;type:jsonb;not null"`
	Status            string          `gorm:"column:status;type:text;not null;index:idx_items_job_status,priority:2"`
	RejectedBy        *string         `gorm:"column:rejected_by;type:text;index:idx_items_rejected_by"`
	RejectionReason   *string         `gorm:"column:rejection_reason;type:text;index:idx_items_rejection_reason,priority:1"`
	RejectionDetails  json.RawMessage `gorm:"column:rejection_details;type:jsonb"`
	NormalizedTitle   *string         `gorm:"column:normalized_title;type:text;index:idx_items_normalized_title,priority:1"`
	Similarity        *float64        `gorm:"column:similarity;type:double precision"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now();index:idx_items_job_created_at,priority:2"`
}

func (Item) TableName() string { return "websets.items" }

func autoMigrateModels() []any {
	return []any{
		&Job{},
		&Item{},
	}
}
