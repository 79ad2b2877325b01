package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Tenant ids become Kubernetes namespace names, so they follow RFC 1123
// label rules.
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]{0,61}[a-z0-9])?$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("tenantid", func(fl validator.FieldLevel) bool {
			return ValidID(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// ValidID reports whether id is a well-formed tenant id.
func ValidID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// ValidateStruct checks v against its struct tags and returns an
// InvalidInput error describing every failing field.
func ValidateStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Wrap(err, CodeInvalidInput, "invalid payload")
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return NewError(CodeInvalidInput, "invalid payload: "+strings.Join(parts, ", "))
}

// Validate checks a create request.
func (c CreateRequest) Validate() error {
	return ValidateStruct(c)
}

// Validate checks an update.
func (u Update) Validate() error {
	if u.Empty() {
		return NewError(CodeInvalidInput, "update has no fields")
	}
	return ValidateStruct(u)
}

// Validate checks a stored record.
func (r Record) Validate() error {
	return ValidateStruct(r)
}
