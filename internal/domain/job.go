// Package domain holds the relational models backing the state store
// (§3): jobs, workflow_steps, work_items, job_links, job_messages, and
// user_work. A Job exclusively owns its steps, work items, links, messages,
// and user-work rows; deletes cascade (see JobRepo.Delete in package store).
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobStatus is one of the nine statuses a Job can hold. Terminal statuses
// (SUCCESSFUL, FAILED, CANCELED, COMPLETE_WITH_ERRORS) are absorbing.
type JobStatus string

const (
	JobAccepted           JobStatus = "accepted"
	JobPreviewing         JobStatus = "previewing"
	JobRunning            JobStatus = "running"
	JobRunningWithErrors  JobStatus = "running_with_errors"
	JobPaused             JobStatus = "paused"
	JobCompleteWithErrors JobStatus = "complete_with_errors"
	JobSuccessful         JobStatus = "successful"
	JobFailed             JobStatus = "failed"
	JobCanceled           JobStatus = "canceled"
)

// Terminal reports whether status is one of the four absorbing statuses.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccessful, JobFailed, JobCanceled, JobCompleteWithErrors:
		return true
	default:
		return false
	}
}

// Job is a user's end-to-end transformation request (§3).
type Job struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Username         string         `gorm:"column:username;not null;index" json:"username"`
	Request          string         `gorm:"column:request;type:text;not null" json:"request"`
	Status           JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Progress         int            `gorm:"column:progress;not null;default:0" json:"progress"`
	NumInputGranules int            `gorm:"column:num_input_granules;not null;default:0" json:"numInputGranules"`
	Labels           datatypes.JSON `gorm:"column:labels;type:jsonb" json:"labels,omitempty"`
	IgnoreErrors     bool           `gorm:"column:ignore_errors;not null;default:false" json:"ignoreErrors"`
	DestinationURL   string         `gorm:"column:destination_url" json:"destinationUrl,omitempty"`
	Message          string         `gorm:"column:message;type:text" json:"message,omitempty"`
	IsAsync          bool           `gorm:"column:is_async;not null;default:true" json:"isAsync"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"createdAt"`
	UpdatedAt        time.Time      `gorm:"not null;default:now();index" json:"updatedAt"`
}

func (Job) TableName() string { return "jobs" }

// Labels are stored lowercase and at most 255 characters each; normalized by
// the caller before persistence (see store.NormalizeLabels; JobRepo.Create
// stores Labels as given).
func NormalizeLabel(label string) string {
	if len(label) > 255 {
		label = label[:255]
	}
	return toLower(label)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
