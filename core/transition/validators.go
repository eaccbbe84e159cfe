package transition

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

var (
	decisionTag  = "decision"
	decisionText = "{0} must be one of promote, retain, demote or leave"

	resultTag  = "result"
	resultText = "{0} must be one of pass or fail"

	examScoreTag  = "examscore"
	examScoreText = "{0} must not be longer than 16 characters"
)

// InitValidators registers the transition validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(decisionTag, decisionValidation)
	core.RegisterCustomTranslation(validate, translator, decisionTag, decisionText)

	_ = validate.RegisterValidation(resultTag, resultValidation)
	core.RegisterCustomTranslation(validate, translator, resultTag, resultText)

	_ = validate.RegisterValidation(examScoreTag, examScoreValidation)
	core.RegisterCustomTranslation(validate, translator, examScoreTag, examScoreText)
}

type (
	// SetAllRequest sets one decision for the whole roster.
	SetAllRequest struct {
		Decision school.Decision `json:"decision" validate:"required,decision"`
	}

	// UpdateCandidate edits the inputs of one student. Nil fields are left alone.
	UpdateCandidate struct {
		Decision  *school.Decision `json:"decision" validate:"omitempty,decision"`
		ExamScore *string          `json:"exam_score" validate:"omitempty,examscore"`
		Result    *school.Result   `json:"result" validate:"omitempty,result"`
	}

	// CommitRequest overrides the configured chunk size of one run.
	CommitRequest struct {
		ChunkSize int `json:"chunk_size" validate:"gte=0"`
	}
)

func (r *SetAllRequest) Validate(validate *validator.Validate) error {
	r.Decision = school.Decision(core.CleanString(string(r.Decision), true /* lower */))
	return validate.Struct(r)
}

func (r *UpdateCandidate) Validate(validate *validator.Validate) error {
	if r.Decision != nil {
		d := school.Decision(core.CleanString(string(*r.Decision), true /* lower */))
		r.Decision = &d
	}
	if r.Result != nil {
		res := school.Result(core.CleanString(string(*r.Result), true /* lower */))
		r.Result = &res
	}
	return validate.Struct(r)
}

func (r CommitRequest) Validate(validate *validator.Validate) error { return validate.Struct(r) }

// Custom Validators

func decisionValidation(fl validator.FieldLevel) bool {
	return school.Decision(fl.Field().String()).IsValid()
}

func resultValidation(fl validator.FieldLevel) bool {
	return school.Result(fl.Field().String()).IsValid()
}

// examScoreValidation accepts any raw input; non-numeric scores are kept as typed.
func examScoreValidation(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= 16
}
