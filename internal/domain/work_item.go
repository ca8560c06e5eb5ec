package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WorkItemStatus is one of the seven statuses a WorkItem can hold. The
// terminal set is {SUCCESSFUL, FAILED, WARNING, CANCELED}; once terminal a
// work item is never mutated again (§3).
type WorkItemStatus string

const (
	ItemReady      WorkItemStatus = "ready"
	ItemQueued     WorkItemStatus = "queued"
	ItemRunning    WorkItemStatus = "running"
	ItemSuccessful WorkItemStatus = "successful"
	ItemFailed     WorkItemStatus = "failed"
	ItemWarning    WorkItemStatus = "warning"
	ItemCanceled   WorkItemStatus = "canceled"
)

func (s WorkItemStatus) Terminal() bool {
	switch s {
	case ItemSuccessful, ItemFailed, ItemWarning, ItemCanceled:
		return true
	default:
		return false
	}
}

// WorkItem is one unit of work for one step, consumable by one worker
// (§3).
type WorkItem struct {
	ID                  uint64         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID               uuid.UUID      `gorm:"type:uuid;column:job_id;not null;index" json:"jobID"`
	ServiceID           string         `gorm:"column:service_id;not null;index" json:"serviceID"`
	WorkflowStepIndex   int            `gorm:"column:workflow_step_index;not null;index" json:"workflowStepIndex"`
	Status              WorkItemStatus `gorm:"column:status;not null;index" json:"status"`
	ScrollID            string         `gorm:"column:scroll_id" json:"scrollID,omitempty"`
	StacCatalogLocation string         `gorm:"column:stac_catalog_location" json:"stacCatalogLocation,omitempty"`
	Results             datatypes.JSON `gorm:"column:results;type:jsonb" json:"results,omitempty"`
	OutputItemSizes     datatypes.JSON `gorm:"column:output_item_sizes;type:jsonb" json:"outputItemSizes,omitempty"`
	RetryCount          int            `gorm:"column:retry_count;not null;default:0" json:"retryCount"`
	StartedAt           *time.Time     `gorm:"column:started_at" json:"startedAt,omitempty"`
	Duration            time.Duration  `gorm:"column:duration_ns" json:"duration"`
	SortIndex           int64          `gorm:"column:sort_index;not null;index" json:"sortIndex"`
	Message             string         `gorm:"column:message;type:text" json:"message,omitempty"`
	MessageCategory     string         `gorm:"column:message_category" json:"messageCategory,omitempty"`
	CreatedAt           time.Time      `gorm:"not null;default:now()" json:"createdAt"`
	UpdatedAt           time.Time      `gorm:"not null;default:now();index" json:"updatedAt"`
}

func (WorkItem) TableName() string { return "work_items" }

// ResultsSlice decodes Results into a []string of output URLs.
func (w *WorkItem) ResultsSlice() []string {
	return decodeStrings(w.Results)
}

// OutputItemSizesSlice decodes OutputItemSizes into a []int64.
func (w *WorkItem) OutputItemSizesSlice() []int64 {
	return decodeInt64s(w.OutputItemSizes)
}
