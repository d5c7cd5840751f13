package writer

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nainya/surveystore/pkg/document"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validateContent collects every violation in c, plus a missing
// organization when orgRequired is set.
func (w *Writer) validateContent(orgID string, orgRequired bool, c document.Content) error {
	var fieldErrs []FieldError
	if orgRequired && strings.TrimSpace(orgID) == "" {
		fieldErrs = append(fieldErrs, FieldError{Field: "organizationId", Message: "is required"})
	}

	if err := w.validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fieldErrs = append(fieldErrs, FieldError{Field: fieldPath(fe.Namespace()), Message: fieldMessage(fe)})
		}
	}

	if len(fieldErrs) > 0 {
		return &ValidationError{FieldErrors: fieldErrs}
	}
	return nil
}

// fieldPath drops the root struct name: "Content.questions[1].text" -> "questions[1].text".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "is required"
	case "min":
		if fe.Field() == "questions" {
			return "must contain at least one question"
		}
		return "must have at least " + fe.Param() + " items"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
