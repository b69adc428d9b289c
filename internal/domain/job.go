package domain

import (
	"encoding/json"
	"time"
)

// Step enumerates the pipeline phases a generation job moves through.
type Step string

const (
	StepInit      Step = "init"
	StepImageEdit Step = "image_edit"
	StepTTS       Step = "tts"
	StepLipSync   Step = "lip_sync"
	StepFinalize  Step = "finalize"
)

var stepOrder = map[Step]int{
	StepInit:      0,
	StepImageEdit: 1,
	StepTTS:       2,
	StepLipSync:   3,
	StepFinalize:  4,
}

// Index returns the position of the step in the fixed pipeline sequence, or -1
// for unknown steps.
func (s Step) Index() int {
	if idx, ok := stepOrder[s]; ok {
		return idx
	}
	return -1
}

// Valid reports whether s is one of the known pipeline steps.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StepSnapshot records what was sent to and received from collaborators while
// a step ran. Payloads are free-form JSON.
type StepSnapshot struct {
	Status    JobStatus       `json:"status"`
	Request   json.RawMessage `json:"request,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Job is one execution of the generation pipeline for a single request.
type Job struct {
	ID           string
	Seq          int64
	Step         Step
	Status       JobStatus
	Request      GenerationRequest
	Steps        map[Step]StepSnapshot
	Result       json.RawMessage
	FailedReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Progress converts the current step into a coarse percentage for polling
// clients.
func (j *Job) Progress() int {
	switch {
	case j.Status == JobStatusCompleted:
		return 100
	case j.Status == JobStatusQueued:
		return 0
	}
	switch j.Step {
	case StepImageEdit:
		return 10
	case StepTTS:
		return 25
	case StepLipSync:
		return 50
	case StepFinalize:
		return 95
	default:
		return 5
	}
}
