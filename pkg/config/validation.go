package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittostore/pkg/backend/badger"
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
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	names := make([]string, 0, len(cfg.Storages))
	for name := range cfg.Storages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validateStorageName(name); err != nil {
			return err
		}
		if err := validateStorage(name, cfg.Storages[name]); err != nil {
			return err
		}
	}

	ids := make(map[string]bool)
	for i, h := range cfg.Webhooks.Hooks {
		if h.ID == "" {
			continue
		}
		if ids[h.ID] {
			return fmt.Errorf("webhooks.hooks[%d]: duplicate id %q", i, h.ID)
		}
		ids[h.ID] = true
	}

	return nil
}

func validateStorageName(name string) error {
	if name == "" || strings.ContainsAny(name, "/: \t") {
		return fmt.Errorf("storages: invalid storage name %q", name)
	}
	return nil
}

// validateStorage checks that the section required by the storage type is present.
func validateStorage(name string, s StorageConfig) error {
	switch s.Type {
	case "filesystem":
		if s.Filesystem["path"] == nil || s.Filesystem["path"] == "" {
			return fmt.Errorf("storages.%s: filesystem.path is required", name)
		}
	case "s3":
		if s.S3["bucket"] == nil || s.S3["bucket"] == "" {
			return fmt.Errorf("storages.%s: s3.bucket is required", name)
		}
	case "sql":
		driver, _ := s.SQL["driver"].(string)
		switch driver {
		case "", "libsql":
			if s.SQL["path"] == nil || s.SQL["path"] == "" {
				return fmt.Errorf("storages.%s: sql.path is required for the libsql driver", name)
			}
		case "postgres":
			if s.SQL["dsn"] == nil || s.SQL["dsn"] == "" {
				return fmt.Errorf("storages.%s: sql.dsn is required for the postgres driver", name)
			}
		default:
			return fmt.Errorf("storages.%s: unknown sql driver %q (supported: libsql, postgres)", name, driver)
		}
	case "badger":
		inMemory, _ := s.Badger["in_memory"].(bool)
		if !inMemory && (s.Badger["path"] == nil || s.Badger["path"] == "") {
			return fmt.Errorf("storages.%s: badger.path is required", name)
		}
		var opts badger.BadgerBackendConfig
		if err := decode(s.Badger, &opts); err != nil {
			return fmt.Errorf("storages.%s: invalid badger section: %w", name, err)
		}
		// Expiry runs per key, so a shared blob or a version pointer can
		// expire before the records that reference it.
		if opts.TTL > 0 && (s.Versioning || s.Deduplication) {
			return fmt.Errorf("storages.%s: badger.ttl cannot be combined with versioning or deduplication", name)
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
