package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	names := make(map[string]bool)
	for i, b := range cfg.Storage.Backends {
		if names[b.Name] {
			return fmt.Errorf("storage.backends[%d]: duplicate backend name %q", i, b.Name)
		}
		names[b.Name] = true
	}
	if !names[cfg.Storage.Active] {
		return fmt.Errorf("storage.active: backend %q is not configured", cfg.Storage.Active)
	}
	if cfg.Downloads.Store == "postgres" {
		if dsn, _ := cfg.Downloads.Postgres["dsn"].(string); dsn == "" {
			return fmt.Errorf("downloads.postgres.dsn: required when downloads.store is postgres")
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
