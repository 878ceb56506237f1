package dto

import "github.com/noah-isme/readaloud-api/internal/models"

// CreateAudioJobRequest renders every (story, voice) pair. Empty voices means all voices.
type CreateAudioJobRequest struct {
	StoryIDs []string `json:"story_ids" validate:"required,min=1,max=200,dive,uuid"`
	Voices   []string `json:"voices" validate:"omitempty,max=4,dive,oneof=female_1 female_2 male_1 male_2"`
}

// AudioJobResponse is the pollable job view.
type AudioJobResponse struct {
	ID             string                `json:"id"`
	Status         models.AudioJobStatus `json:"status"`
	Progress       int                   `json:"progress"`
	TotalItems     int                   `json:"total_items"`
	CompletedItems int                   `json:"completed_items"`
	FailedItems    int                   `json:"failed_items"`
	ErrorMessage   *string               `json:"error_message,omitempty"`
	Items          []models.AudioJobItem `json:"items,omitempty"`
}
