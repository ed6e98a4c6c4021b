package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// ScheduleParser accepts five or six field cron expressions plus descriptors
// such as "@every 30s". The scheduler parses sync.schedule with it.
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var validate = newValidator()

// newValidator reports fields by their koanf key and adds the "schedule" tag.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	if err := v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		_, err := ScheduleParser.Parse(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}

	v.RegisterStructValidation(validateStorage, Config{})

	return v
}

// validateStorage rejects a task queue that shares the quote database file.
func validateStorage(sl validator.StructLevel) {
	cfg, ok := sl.Current().Interface().(Config)
	if !ok {
		return
	}

	if cfg.Tasks.Enabled && cfg.Storage.Driver == StorageDriverSQLite && cfg.Tasks.DBPath == cfg.Storage.Path {
		sl.ReportError(cfg.Tasks.DBPath, "tasks.db_path", "DBPath", "nefield", "storage.path")
	}
}

// Validate checks c and lists every violation, one per line.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	lines := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		lines = append(lines, describe(fe))
	}

	return fmt.Errorf("config validation failed:\n  %s", strings.Join(lines, "\n  "))
}

// describe renders one violation against its koanf key.
func describe(fe validator.FieldError) string {
	key := keyOf(fe.Namespace())

	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required when %s", key, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", key, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", key, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", key, fe.Param())
	case "url":
		return key + " must be a valid URL"
	case "startswith":
		return fmt.Sprintf("%s must start with %q", key, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be below %s", key, sibling(key, fe.Param()))
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", key, fe.Param())
	case "schedule":
		return fmt.Sprintf("%s %q is not a valid cron schedule", key, fe.Value())
	default:
		return fmt.Sprintf("%s failed validation: %s", key, fe.Tag())
	}
}

// keyOf drops the root struct from a namespace: "Config.sync.schedule" is "sync.schedule".
func keyOf(namespace string) string {
	_, key, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}

	return key
}

// sibling names the struct field param as a koanf key next to key.
func sibling(key, param string) string {
	var b strings.Builder

	for i, r := range param {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}

		b.WriteRune(unicode.ToLower(r))
	}

	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[:i+1] + b.String()
	}

	return b.String()
}
