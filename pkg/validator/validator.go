package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Enum is implemented by string-backed domain types with a closed set of values.
type Enum interface {
	Valid() bool
}

// ValidationError is one rejected field.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

var messages = map[string]string{
	"required": "%s is required",
	"notblank": "%s must not be blank",
	"email":    "%s must be a valid email address",
	"e164":     "%s must be an E.164 phone number",
	"timezone": "%s must be an IANA time zone",
	"enum":     "%s has an unknown value",
	"oneof":    "%s must be one of %s",
	"min":      "%s must be at least %s",
	"max":      "%s must be at most %s",
	"gte":      "%s must be at least %s",
}

// Message renders the failure for API clients.
func (v ValidationError) Message() string {
	field := strings.ToLower(strings.ReplaceAll(v.Field, "_", " "))
	if field == "" {
		field = "field"
	}
	if format, ok := messages[v.Tag]; ok {
		if strings.Count(format, "%s") == 2 {
			return fmt.Sprintf(format, field, v.Param)
		}
		return fmt.Sprintf(format, field)
	}
	if v.Param != "" {
		return fmt.Sprintf("%s failed %s=%s", field, v.Tag, v.Param)
	}
	return fmt.Sprintf("%s failed %s", field, v.Tag)
}

// ValidationErrors collects every rejected field of one struct.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, failure := range v {
		parts[i] = failure.Message()
	}
	return strings.Join(parts, "; ")
}

// Describe turns any validation error into a client-facing sentence.
func Describe(err error) string {
	var failures ValidationErrors
	if errors.As(err, &failures) && len(failures) > 0 {
		return failures.Error()
	}
	return "invalid request payload"
}

// ValidateStruct runs the `validate` tags of s. Field names are reported by their JSON name.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	failures := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		failures = append(failures, ValidationError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return failures
}

// RegisterValidation adds a custom rule to the shared validator.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonFieldName)
		_ = validate.RegisterValidation("notblank", notBlank)
		_ = validate.RegisterValidation("enum", knownEnum)
	})
	return validate
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

// notBlank rejects whitespace-only strings. Non-string kinds pass.
func notBlank(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return false
		}
		field = field.Elem()
	}
	if field.Kind() != reflect.String {
		return true
	}
	return strings.TrimSpace(field.String()) != ""
}

// knownEnum defers to the field's own Valid method.
func knownEnum(fl validator.FieldLevel) bool {
	field := fl.Field()
	if !field.CanInterface() {
		return false
	}
	enum, ok := field.Interface().(Enum)
	if !ok {
		return false
	}
	return enum.Valid()
}
