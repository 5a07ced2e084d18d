package storage

import (
	"fmt"

	"github.com/c360studio/semgate/phase"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a feature is not stored. It matches
	// phase.ErrFeatureNotFound with errors.Is.
	ErrNotFound = fmt.Errorf("storage: %w", phase.ErrFeatureNotFound)
)
