package domain

import "github.com/google/uuid"

// UserWork is the per-(job, service) concurrency-accounting row used for
// admission control during scheduling (§3). Both counters are always >= 0.
type UserWork struct {
	JobID        uuid.UUID `gorm:"type:uuid;column:job_id;primaryKey" json:"jobID"`
	ServiceID    string    `gorm:"column:service_id;primaryKey" json:"serviceID"`
	ReadyCount   int       `gorm:"column:ready_count;not null;default:0" json:"readyCount"`
	RunningCount int       `gorm:"column:running_count;not null;default:0" json:"runningCount"`
}

func (UserWork) TableName() string { return "user_work" }
