package domain

import "encoding/json"

// ProgressEvent is an ephemeral step/status notification. Extra fields are
// flattened next to step and status on the wire.
type ProgressEvent struct {
	JobID  string
	Step   Step
	Status JobStatus
	Extra  map[string]any
}

// Terminal reports whether no further events follow for the job.
func (e ProgressEvent) Terminal() bool {
	return e.Status == JobStatusFailed || (e.Step == StepFinalize && e.Status == JobStatusCompleted)
}

func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+3)
	for k, v := range e.Extra {
		out[k] = v
	}
	if e.JobID != "" {
		out["jobId"] = e.JobID
	}
	out["step"] = e.Step
	out["status"] = e.Status
	return json.Marshal(out)
}

func (e *ProgressEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ProgressEvent{}
	if v, ok := raw["jobId"].(string); ok {
		e.JobID = v
	}
	if v, ok := raw["step"].(string); ok {
		e.Step = Step(v)
	}
	if v, ok := raw["status"].(string); ok {
		e.Status = JobStatus(v)
	}
	delete(raw, "jobId")
	delete(raw, "step")
	delete(raw, "status")
	if len(raw) > 0 {
		e.Extra = raw
	}
	return nil
}
