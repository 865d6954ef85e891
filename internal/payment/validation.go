package payment

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateConfirmation checks the webhook payload beyond JSON shape.
// Returns a message naming every failed field, or "" when valid.
func validateConfirmation(conf interface{}) string {
	err := validate.Struct(conf)
	if err == nil {
		return ""
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid confirmation payload"
	}

	var problems []string
	for _, fe := range validationErrs {
		problems = append(problems, fieldMessage(fe))
	}
	return strings.Join(problems, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "len":
		return fe.Field() + " must be exactly " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
