package validation

import (
	stderrors "errors"
	"net"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/brokersec/errors"
)

const mechanismNameMessage = "must be 1-20 characters of letters, digits, '-' or '_'"

// SASL mechanism names are case-insensitive; configuration may use either case.
var mechanismNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

var (
	validate *validator.Validate
	once     sync.Once
)

func isMechanismName(s string) bool { return mechanismNamePattern.MatchString(s) }

// getValidator returns the shared validator with the broker tags
// registered:
//
//	sasl_mechanism  a well-formed SASL mechanism name
//	listen_address  host:port where port may be 0
func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report config keys as they appear in the YAML file.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"mapstructure", "json"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return toSnakeCase(fld.Name)
		})

		_ = validate.RegisterValidation("sasl_mechanism", func(fl validator.FieldLevel) bool {
			return isMechanismName(fl.Field().String())
		})
		_ = validate.RegisterValidation("listen_address", func(fl validator.FieldLevel) bool {
			_, _, err := net.SplitHostPort(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks a struct against its `validate` tags and returns an
// INVALID_INPUT error naming each failing key by its configuration path.
func Validate(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.Validation("validation failed").WithCause(err)
	}

	fieldErrors := make([]FieldError, 0, len(verrs))
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		name := fieldPath(e.Namespace())
		msg := formatValidationError(e)
		fieldErrors = append(fieldErrors, FieldError{Field: name, Message: msg})
		messages = append(messages, name+": "+msg)
	}
	return errors.Validation(strings.Join(messages, "; ")).
		WithDetail("fields", fieldErrors)
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param() + " characters"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	case "hostname_port", "listen_address":
		return "must be a host:port address"
	case "sasl_mechanism":
		return mechanismNameMessage
	case "unique":
		return "must not contain duplicates"
	default:
		return "is invalid"
	}
}

// fieldPath drops the root struct name from a validator namespace, so
// "Config.Listeners[0].address" becomes "listeners[0].address".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return toSnakeCase(ns)
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
