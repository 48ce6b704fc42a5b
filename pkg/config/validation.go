package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Media.Store.Type == "badger" {
		path, _ := cfg.Media.Store.Badger["path"].(string)
		if path == "" {
			return fmt.Errorf("media.store.badger.path: required when media.store.type is badger")
		}
	}

	// Anything under drives/ is scanned as drive content
	drives := cfg.Storage.DrivesDir()
	if within(drives, cfg.Storage.TmpDir) {
		return fmt.Errorf("storage.tmp_dir: %q must not be inside %q", cfg.Storage.TmpDir, drives)
	}
	if within(drives, cfg.Storage.DrivesPath()) {
		return fmt.Errorf("storage.drives_file: %q must not be inside %q", cfg.Storage.DrivesPath(), drives)
	}

	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	if path == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
