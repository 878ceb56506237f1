package models

import "time"

// AudioJobStatus captures background job lifecycle states.
type AudioJobStatus string

const (
	AudioJobQueued     AudioJobStatus = "QUEUED"
	AudioJobProcessing AudioJobStatus = "PROCESSING"
	AudioJobFinished   AudioJobStatus = "FINISHED"
	AudioJobFailed     AudioJobStatus = "FAILED"
)

// AudioItemStatus is the state of one (story, voice) render.
type AudioItemStatus string

const (
	AudioItemPending AudioItemStatus = "pending"
	AudioItemDone    AudioItemStatus = "done"
	AudioItemFailed  AudioItemStatus = "failed"
)

// AudioJob persisted bulk generation metadata.
type AudioJob struct {
	ID             string         `db:"id" json:"id"`
	Status         AudioJobStatus `db:"status" json:"status"`
	TotalItems     int            `db:"total_items" json:"total_items"`
	CompletedItems int            `db:"completed_items" json:"completed_items"`
	FailedItems    int            `db:"failed_items" json:"failed_items"`
	CreatedBy      string         `db:"created_by" json:"created_by"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	StartedAt      *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage   *string        `db:"error_message" json:"error_message,omitempty"`
	Items          []AudioJobItem `db:"-" json:"items,omitempty"`
}

// Progress is the share of items processed, 0..100.
func (j AudioJob) Progress() int {
	if j.TotalItems <= 0 {
		return 0
	}
	return (j.CompletedItems + j.FailedItems) * 100 / j.TotalItems
}

// AudioJobItem is one story and voice pair within a job.
type AudioJobItem struct {
	JobID        string          `db:"job_id" json:"-"`
	StoryID      string          `db:"story_id" json:"story_id"`
	Voice        string          `db:"voice" json:"voice"`
	Status       AudioItemStatus `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	VariantID    *string         `db:"variant_id" json:"variant_id,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// UpdateAudioJobParams carries partial job updates.
type UpdateAudioJobParams struct {
	ID             string
	Status         *AudioJobStatus
	CompletedItems *int
	FailedItems    *int
	StartedAt      *time.Time
	FinishedAt     *time.Time
	ErrorMessage   *string
}
