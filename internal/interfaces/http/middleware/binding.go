package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/interfaces/http/dto"
)

// FeatureSlugTag validates feature slugs in request bodies
const FeatureSlugTag = "feature_slug"

// SetupValidator installs the engine's tags on gin's validator
func SetupValidator() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator is not go-playground/validator")
	}
	RegisterValidations(v)
	return nil
}

// RegisterValidations reports fields by their JSON (or form) name and adds
// the feature_slug tag
func RegisterValidations(v *validator.Validate) {
	v.RegisterTagNameFunc(fieldName)
	_ = v.RegisterValidation(FeatureSlugTag, func(fl validator.FieldLevel) bool {
		return billing.ValidateFeatureSlug(fl.Field().String()) == nil
	})
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		}
		return name
	}
	return ""
}

var fieldMessages = map[string]func(param string) string{
	"required":     func(string) string { return "This field is required" },
	FeatureSlugTag: func(string) string { return "Must be a lowercase slug of at most 64 characters" },
	"uuid":         func(string) string { return "Invalid UUID format" },
	"min":          func(p string) string { return "Must be at least " + p },
	"max":          func(p string) string { return "Must be at most " + p },
	"gte":          func(p string) string { return "Must be greater than or equal to " + p },
	"gt":           func(p string) string { return "Must be greater than " + p },
	"gtfield":      func(p string) string { return "Must be after " + p },
	"oneof":        func(p string) string { return "Must be one of: " + p },
}

func fieldMessage(e validator.FieldError) string {
	if msg, ok := fieldMessages[e.Tag()]; ok {
		return msg(e.Param())
	}
	return "Invalid value"
}

// FormatValidationErrors renders a binding failure as INVALID_INPUT, with
// one detail per rejected field when the body decoded
func FormatValidationErrors(err error) dto.Response {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return dto.NewValidationErrorResponse("Malformed request body", nil)
	}
	details := make([]dto.ValidationDetail, 0, len(fields))
	for _, f := range fields {
		details = append(details, dto.ValidationDetail{Field: f.Field(), Message: fieldMessage(f)})
	}
	return dto.NewValidationErrorResponse("Request validation failed", details)
}

// BindError aborts with the response for a failed bind. A body cut off by
// BodyLimit is REQUEST_TOO_LARGE, anything else INVALID_INPUT.
func BindError(c *gin.Context, err error) {
	_ = c.Error(err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		abortWithCode(c, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, FormatValidationErrors(err))
}
