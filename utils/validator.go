package utils

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// BindingErrorResponse translates a gin binding failure into an API error.
// Field-level validation failures are reported per field; anything else
// (malformed JSON, wrong content type) becomes a generic bad request.
func BindingErrorResponse(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationErrorResponse(c, formatValidationErrors(validationErrs))
		return
	}
	BadRequestResponse(c, "Invalid request body")
}

func formatValidationErrors(errs validator.ValidationErrors) []ValidationError {
	formatted := make([]ValidationError, 0, len(errs))
	for _, fe := range errs {
		formatted = append(formatted, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: getErrorMessage(fe),
		})
	}
	return formatted
}

func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "email":
		return "Invalid email format"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
