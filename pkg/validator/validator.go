package validator

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/kapixcr/BioNote/pkg/errors"
)

// DefaultPhonePattern accepts an optional leading + and 7 to 20 digits, spaces, dashes or parentheses.
const DefaultPhonePattern = `^[\+]?[0-9\s\-\(\)]{7,20}$`

// Options configures the domain rules registered on the validation engine.
type Options struct {
	Countries    []string
	PhonePattern string
}

// Register installs the domain tags on v:
//
//	telefono  phone number matching Options.PhonePattern
//	pais      member of Options.Countries (case-insensitive)
//	accepted  boolean that must be true
//
// Field names in errors follow the json tag, falling back to the form tag.
func Register(v *validator.Validate, opts Options) error {
	pattern := opts.PhonePattern
	if pattern == "" {
		pattern = DefaultPhonePattern
	}
	phone, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile phone pattern: %w", err)
	}

	countries := make(map[string]struct{}, len(opts.Countries))
	for _, c := range opts.Countries {
		countries[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	if err := v.RegisterValidation("telefono", func(fl validator.FieldLevel) bool {
		return phone.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}
	if err := v.RegisterValidation("pais", func(fl validator.FieldLevel) bool {
		_, ok := countries[strings.ToUpper(strings.TrimSpace(fl.Field().String()))]
		return ok
	}); err != nil {
		return err
	}
	return v.RegisterValidation("accepted", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.Bool && fl.Field().Bool()
	})
}

// RegisterGin installs the domain tags on gin's binding engine.
func RegisterGin(opts Options) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return stderrors.New("gin binding engine is not go-playground/validator")
	}
	return Register(v, opts)
}

// Translate converts a binding or validation failure into a 422 with per-field messages.
func Translate(err error) *errors.AppError {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		fields := make(map[string][]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = append(fields[fe.Field()], message(fe))
		}
		return errors.Validation(fields)
	}

	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) && typeErr.Field != "" {
		return errors.Field(typeErr.Field, fmt.Sprintf("The %s field has an invalid type.", typeErr.Field))
	}

	var numErr *strconv.NumError
	if stderrors.As(err, &numErr) {
		return errors.Field("body", "A numeric field has an invalid value.")
	}

	if stderrors.Is(err, io.EOF) {
		return errors.Field("body", "The request body is empty.")
	}

	return errors.Field("body", "The request body could not be parsed.")
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s must be a valid email address.", field)
	case "min", "gte":
		if isNumeric(fe.Kind()) {
			return fmt.Sprintf("The %s must be at least %s.", field, fe.Param())
		}
		return fmt.Sprintf("The %s must be at least %s characters.", field, fe.Param())
	case "max", "lte":
		if isNumeric(fe.Kind()) {
			return fmt.Sprintf("The %s may not be greater than %s.", field, fe.Param())
		}
		return fmt.Sprintf("The %s may not be greater than %s characters.", field, fe.Param())
	case "eqfield":
		return fmt.Sprintf("The %s and %s must match.", field, strings.ToLower(fe.Param()))
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", field)
	case "url", "http_url":
		return fmt.Sprintf("The %s format is invalid.", field)
	case "datetime":
		return fmt.Sprintf("The %s is not a valid date (%s).", field, fe.Param())
	case "uuid", "uuid4":
		return fmt.Sprintf("The %s must be a valid identifier.", field)
	case "telefono":
		return fmt.Sprintf("The %s format is invalid.", field)
	case "pais":
		return fmt.Sprintf("The selected %s is not supported.", field)
	case "accepted":
		return fmt.Sprintf("The %s must be accepted.", field)
	default:
		return fmt.Sprintf("The %s is invalid.", field)
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
