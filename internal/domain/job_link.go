package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobLink is an output artifact attached to a job: unbounded per job,
// appended only (§3).
type JobLink struct {
	ID            uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID         uuid.UUID  `gorm:"type:uuid;column:job_id;not null;index" json:"jobID"`
	Href          string     `gorm:"column:href;not null" json:"href"`
	Rel           string     `gorm:"column:rel;not null;index" json:"rel"`
	Type          string     `gorm:"column:type" json:"type,omitempty"`
	Title         string     `gorm:"column:title" json:"title,omitempty"`
	TemporalStart *time.Time `gorm:"column:temporal_start" json:"temporalStart,omitempty"`
	TemporalEnd   *time.Time `gorm:"column:temporal_end" json:"temporalEnd,omitempty"`
	BboxMinLon    *float64   `gorm:"column:bbox_min_lon" json:"bboxMinLon,omitempty"`
	BboxMinLat    *float64   `gorm:"column:bbox_min_lat" json:"bboxMinLat,omitempty"`
	BboxMaxLon    *float64   `gorm:"column:bbox_max_lon" json:"bboxMaxLon,omitempty"`
	BboxMaxLat    *float64   `gorm:"column:bbox_max_lat" json:"bboxMaxLat,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;default:now()" json:"createdAt"`
}

func (JobLink) TableName() string { return "job_links" }

const JobLinkRelData = "data"

// JobMessageLevel is ERROR or WARNING (§3).
type JobMessageLevel string

const (
	MessageError   JobMessageLevel = "error"
	MessageWarning JobMessageLevel = "warning"
)

// JobMessage is an error or warning attached to a job: appended only (§3).
type JobMessage struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID     uuid.UUID       `gorm:"type:uuid;column:job_id;not null;index" json:"jobID"`
	URL       string          `gorm:"column:url" json:"url,omitempty"`
	Message   string          `gorm:"column:message;type:text;not null" json:"message"`
	Level     JobMessageLevel `gorm:"column:level;not null;index" json:"level"`
	Category  string          `gorm:"column:category" json:"category,omitempty"`
	CreatedAt time.Time       `gorm:"not null;default:now()" json:"createdAt"`
}

func (JobMessage) TableName() string { return "job_messages" }
