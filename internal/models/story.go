package models

import "time"

// Difficulty grades a story's reading level within its grade.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Story is immutable once published.
type Story struct {
	ID               string     `db:"id" json:"id"`
	Title            string     `db:"title" json:"title"`
	Content          string     `db:"content" json:"content,omitempty"`
	GradeLevel       string     `db:"grade_level" json:"grade_level"`
	Difficulty       Difficulty `db:"difficulty" json:"difficulty"`
	WordCount        int        `db:"word_count" json:"word_count"`
	EstimatedMinutes int        `db:"estimated_minutes" json:"estimated_minutes"`
	Active           bool       `db:"active" json:"active"`
	CreatedBy        *string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	Voices           []string   `db:"-" json:"voices,omitempty"`
}

// StoryFilter narrows catalog listings.
type StoryFilter struct {
	GradeLevel string
	Difficulty string
	Search     string
	Page       int
	PageSize   int
}

// AudioVariant is one rendered voice of a story.
type AudioVariant struct {
	ID              string    `db:"id" json:"id"`
	StoryID         string    `db:"story_id" json:"story_id"`
	Voice           string    `db:"voice" json:"voice"`
	StorageKey      string    `db:"storage_key" json:"-"`
	SizeBytes       int64     `db:"size_bytes" json:"size_bytes"`
	DurationSeconds *float64  `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
