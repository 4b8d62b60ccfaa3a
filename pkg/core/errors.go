package core

import (
	"fmt"
	"strings"
)

// ConfigError reports an invalid configuration value. It is always returned
// before any row is processed.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Message)
}

// InvariantViolation reports that a collapse stage found rows that break the
// guarantees of an earlier stage. It signals a processing bug, not bad data.
type InvariantViolation struct {
	Stage   string
	Rows    []int
	Message string
}

func (e *InvariantViolation) Error() string {
	ids := make([]string, len(e.Rows))
	for i, id := range e.Rows {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("invariant violation in %s stage (rows %s): %s", e.Stage, strings.Join(ids, ", "), e.Message)
}
