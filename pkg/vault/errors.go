package vault

import (
	"errors"
	"strings"

	"github.com/dan-solli/sqlvault/pkg/blob"
	"github.com/dan-solli/sqlvault/pkg/store"
)

// Error type constants for classification
const (
	ErrTypeValidation = "validation"
	ErrTypeNotFound   = "notfound"
	ErrTypeConflict   = "conflict"
	ErrTypeStorage    = "storage"
	ErrTypeDatabase   = "database"
	ErrTypeUnknown    = "unknown"
)

// ErrEmptyName indicates a create with an empty query name.
var ErrEmptyName = errors.New("query name cannot be empty")

// ErrEmptyContent indicates a version create with empty content.
var ErrEmptyContent = errors.New("content cannot be empty")

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	// Known sentinels first
	switch {
	case errors.Is(err, ErrEmptyName), errors.Is(err, ErrEmptyContent):
		return ErrTypeValidation
	case errors.Is(err, store.ErrQueryNotFound),
		errors.Is(err, store.ErrVersionNotFound),
		errors.Is(err, blob.ErrNotFound):
		return ErrTypeNotFound
	case errors.Is(err, store.ErrHeadConflict),
		errors.Is(err, store.ErrDuplicateVersionID):
		return ErrTypeConflict
	case errors.Is(err, blob.ErrUnavailable):
		return ErrTypeStorage
	}

	errStrLower := strings.ToLower(err.Error())

	// Check for validation errors
	if strings.Contains(errStrLower, "cannot be empty") ||
		strings.Contains(errStrLower, "invalid") ||
		strings.Contains(errStrLower, "required") {
		return ErrTypeValidation
	}

	// Check for not-found errors
	if strings.Contains(errStrLower, "not found") ||
		strings.Contains(errStrLower, "no such") {
		return ErrTypeNotFound
	}

	// Check for conflict errors
	if strings.Contains(errStrLower, "conflict") ||
		strings.Contains(errStrLower, "constraint") {
		return ErrTypeConflict
	}

	// Check for blob storage errors (Badger/GCS specific)
	if strings.Contains(errStrLower, "badger") ||
		strings.Contains(errStrLower, "bucket") ||
		strings.Contains(errStrLower, "blob") {
		return ErrTypeStorage
	}

	// Check for database errors (SQLite specific)
	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "transaction") {
		return ErrTypeDatabase
	}

	// Default to unknown
	return ErrTypeUnknown
}
