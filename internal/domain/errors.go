package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrTransientProvider = errors.New("transient provider failure")
	ErrProviderRejected  = errors.New("provider rejected request")
	ErrTimeout           = errors.New("timed out")
	ErrStorage           = errors.New("storage failure")
	ErrNoJobAvailable    = errors.New("no job available")
	ErrStepRegression    = errors.New("step regression")
	ErrAssetExists       = errors.New("video asset already exists")
)

// StepError tags an error with the pipeline step that produced it. The
// message is the underlying message so failure reasons stay verbatim.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return string(e.Step) + " failed"
	}
	return e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// FailedStep extracts the step recorded on err, defaulting to StepInit.
func FailedStep(err error) Step {
	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.Step.Valid() {
		return stepErr.Step
	}
	return StepInit
}
