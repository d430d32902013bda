package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	qerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	participantPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	runUUIDPattern     = regexp.MustCompile(`^\d{8}-\d{6}_[0-9a-f-]{36}$`)
)

// validatorInstance configures and returns the shared validator instance used across the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("toml"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})

		_ = v.RegisterValidation("participant_label", func(fl validator.FieldLevel) bool {
			return participantPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("run_uuid", func(fl validator.FieldLevel) bool {
			return runUUIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("plugin", func(fl validator.FieldLevel) bool {
			return workflow.IsSupportedPlugin(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return convertValidationError(validatorInstance().Struct(c))
}

// convertValidationError normalizes validator errors into qsiprep validation errors.
func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := tomlFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		if ve.Param() != "" {
			msg = fmt.Sprintf("%s (%s)", msg, ve.Param())
		}
		return qerrors.NewValidationError(field, msg, err)
	}

	return qerrors.NewValidationError("config", err.Error(), err)
}

// tomlFieldName drops the root struct name so fields read as they appear in
// config.toml, e.g. "execution.run_uuid".
func tomlFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}
