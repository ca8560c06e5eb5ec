package domain

import "github.com/google/uuid"

// WorkflowStep records one stage in a job's linear chain, bound to a
// service (§3). (jobID, stepIndex) is unique; steps are contiguous and
// 1-indexed.
type WorkflowStep struct {
	JobID                  uuid.UUID `gorm:"type:uuid;column:job_id;primaryKey;index" json:"jobID"`
	StepIndex              int       `gorm:"column:step_index;primaryKey" json:"stepIndex"`
	ServiceID              string    `gorm:"column:service_id;not null;index" json:"serviceID"`
	Operation              string    `gorm:"column:operation;type:text;not null" json:"operation"`
	WorkItemCount          int       `gorm:"column:work_item_count;not null;default:0" json:"workItemCount"`
	CompletedWorkItemCount int       `gorm:"column:completed_work_item_count;not null;default:0" json:"completedWorkItemCount"`
	HasAggregatedOutput    bool      `gorm:"column:has_aggregated_output;not null;default:false" json:"hasAggregatedOutput"`
	IsBatched              bool      `gorm:"column:is_batched;not null;default:false" json:"isBatched"`
	IsSequential           bool      `gorm:"column:is_sequential;not null;default:false" json:"isSequential"`
	IsComplete             bool      `gorm:"column:is_complete;not null;default:false" json:"isComplete"`
}

func (WorkflowStep) TableName() string { return "workflow_steps" }

// QueryCmrServiceIDPattern matches the query-cmr service, the self-looping
// first step that paginates granules from the external catalog (§4.5).
const QueryCmrServiceIDPattern = "query-cmr"

func (s *WorkflowStep) IsQueryCmr() bool {
	return s != nil && s.ServiceID == QueryCmrServiceIDPattern
}
