package api

import "github.com/satriahrh/narrasi/internal/jobs"

// Delivery selects how a pipeline request reports back. Streaming wins
// over Async when both are set.
type Delivery struct {
	Streaming bool `json:"streaming"` // Server-sent progress events
	Async     bool `json:"async"`     // 202 with a job to poll
}

// VoiceoverRequest represents the request payload for a full voice-over
type VoiceoverRequest struct {
	Delivery
	Script            string  `json:"script"`
	ReferenceVoiceURL string  `json:"referenceVoiceUrl,omitempty"`
	Speed             float64 `json:"speed,omitempty"`
}

// RegenerateRequest represents the request payload for redoing a segment
type RegenerateRequest struct {
	Delivery
	AssetGroupID      string `json:"assetGroupId"`
	SegmentIndex      int    `json:"segmentIndex"`
	SegmentText       string `json:"segmentText"`
	ReferenceVoiceURL string `json:"referenceVoiceUrl,omitempty"`
}

// RecombineRequest represents the request payload for recombination
type RecombineRequest struct {
	Delivery
	Speed float64 `json:"speed,omitempty"`
}

// JobResponse is returned for asynchronous requests
type JobResponse struct {
	Job       *jobs.Job `json:"job"`
	StatusURL string    `json:"statusUrl"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
