package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// SourceKind selects where the spoken audio comes from.
type SourceKind string

const (
	SourceKindText  SourceKind = "text"
	SourceKindAudio SourceKind = "audio"
)

const (
	MaxScriptLength          = 1500
	MaxImageEditPromptLength = 200
)

// GenerationRequest is the immutable input to the pipeline.
type GenerationRequest struct {
	ProjectID       string         `json:"projectId" validate:"required"`
	ActorKey        string         `json:"actorKey" validate:"required,max=120"`
	SourceKind      SourceKind     `json:"sourceKind" validate:"required,oneof=text audio"`
	Script          string         `json:"script,omitempty" validate:"required_if=SourceKind text,max=1500"`
	AudioUploadID   string         `json:"audioUploadId,omitempty" validate:"required_if=SourceKind audio,max=512"`
	ImageVariantID  string         `json:"imageVariantId,omitempty" validate:"omitempty,uuid"`
	ImageEditPrompt string         `json:"imageEditPrompt,omitempty" validate:"max=200"`
	Origin          *RequestOrigin `json:"origin,omitempty"`
}

// RequestOrigin is audit metadata captured at submission time. It never
// influences pipeline decisions.
type RequestOrigin struct {
	RequestID string `json:"requestId,omitempty"`
	Country   string `json:"country,omitempty"`
}

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize returns a copy with surrounding whitespace removed and the script
// converted to NFC so length limits count what the speaker will say.
func (r GenerationRequest) Normalize() GenerationRequest {
	r.ProjectID = strings.TrimSpace(r.ProjectID)
	r.ActorKey = strings.TrimSpace(r.ActorKey)
	r.SourceKind = SourceKind(strings.ToLower(strings.TrimSpace(string(r.SourceKind))))
	r.Script = norm.NFC.String(strings.TrimSpace(r.Script))
	r.AudioUploadID = strings.TrimSpace(r.AudioUploadID)
	r.ImageVariantID = strings.TrimSpace(r.ImageVariantID)
	r.ImageEditPrompt = strings.TrimSpace(r.ImageEditPrompt)
	return r
}

// Validate checks that the request is internally consistent. Failures wrap
// ErrValidation.
func (r GenerationRequest) Validate() error {
	err := requestValidator.Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required for %s requests", fe.Field(), strings.TrimPrefix(fe.Param(), "SourceKind "))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "uuid":
		return fe.Field() + " must be a UUID"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
