package domain

import "time"

// VideoStatus mirrors the video_status enum of the video_asset table.
type VideoStatus string

const (
	VideoStatusCompleted VideoStatus = "completed"
)

// VideoAsset is the final output of a successful job. Its ID equals the job ID.
type VideoAsset struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"projectId"`
	ActorID         string         `json:"actorId"`
	ImageVariantID  string         `json:"imageVariantId,omitempty"`
	SourceType      SourceKind     `json:"sourceType"`
	SourceText      string         `json:"sourceText,omitempty"`
	SourceAudioURL  string         `json:"sourceAudioUrl"`
	ImageURL        string         `json:"imageUrl"`
	VideoURL        string         `json:"videoUrl"`
	DurationSeconds *int           `json:"durationSeconds,omitempty"`
	Status          VideoStatus    `json:"status"`
	Meta            map[string]any `json:"meta"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Actor is a catalog entry providing the stock face image and voice.
type Actor struct {
	ID            string `yaml:"id" json:"id"`
	Key           string `yaml:"key" json:"key"`
	DisplayName   string `yaml:"display_name" json:"displayName"`
	ImageURL      string `yaml:"image_url" json:"imageUrl"`
	VoiceProvider string `yaml:"voice_provider" json:"voiceProvider"`
	VoiceID       string `yaml:"voice_id" json:"voiceId"`
}

// ImageVariant is a precomputed edit of an actor image.
type ImageVariant struct {
	ID             string `yaml:"id" json:"id"`
	ActorID        string `yaml:"actor_id" json:"actorId"`
	ProjectID      string `yaml:"project_id" json:"projectId"`
	Prompt         string `yaml:"prompt" json:"prompt"`
	OutputImageURL string `yaml:"output_image_url" json:"outputImageUrl"`
}
