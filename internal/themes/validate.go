package themes

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"example.com/agentwatch/internal/domain"
)

// MaxNameLen bounds a sanitized theme name.
const MaxNameLen = 50

var (
	validate     *validator.Validate
	validateOnce sync.Once

	nameStrip  = regexp.MustCompile(`[^a-z0-9\-_]`)
	colorValue = regexp.MustCompile(`^(#([0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})|(rgb|rgba|hsl|hsla)\([0-9.,%\s/]+\))$`)
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("themecolor", func(fl validator.FieldLevel) bool {
			return colorValue.MatchString(strings.TrimSpace(fl.Field().String()))
		})
	})
	return validate
}

// SanitizeName lowercases s and strips everything outside [a-z0-9-_].
func SanitizeName(s string) string {
	return nameStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

var tagCodes = map[string]string{
	"required":   domain.CodeRequired,
	"max":        domain.CodeTooLong,
	"themecolor": domain.CodeInvalidFormat,
}

// validateTheme reports every field problem of t at once. Field names use
// the JSON path below the theme, e.g. "colors.primaryHover".
func validateTheme(t *domain.Theme) []domain.FieldError {
	var errs []domain.FieldError
	switch {
	case t.Name == "":
		errs = append(errs, domain.FieldError{Field: "name", Code: domain.CodeRequired, Message: "name must contain at least one of [a-z0-9-_]"})
	case len(t.Name) > MaxNameLen:
		errs = append(errs, domain.FieldError{Field: "name", Code: domain.CodeTooLong, Message: fmt.Sprintf("max length %d", MaxNameLen)})
	}

	err := getValidator().Struct(t)
	if err == nil {
		return errs
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return append(errs, domain.FieldError{Field: "theme", Code: domain.CodeInvalidValue, Message: err.Error()})
	}
	for _, fe := range verrs {
		code, ok := tagCodes[fe.Tag()]
		if !ok {
			code = domain.CodeInvalidValue
		}
		errs = append(errs, domain.FieldError{Field: fieldPath(fe.Namespace()), Code: code, Message: describe(fe)})
	}
	return errs
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "exceeds maximum of " + fe.Param()
	case "themecolor":
		return "must be a hex, rgb(a) or hsl(a) color"
	default:
		return "failed " + fe.Tag()
	}
}
