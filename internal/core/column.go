package core

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Column describes one column of a target table.
type Column struct {
	Name string `json:"name" mapstructure:"name"`
	Type string `json:"type" mapstructure:"type"`
}

// Schema is the ordered column list of a target table.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	return lo.Map(s, func(c Column, _ int) string { return c.Name })
}

// Validate checks that every column has a name and a type and that names
// are unique ignoring case.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return ErrColumnsRequired
	}
	var errs ErrorList
	seen := make(map[string]bool, len(s))
	for i, c := range s {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Errorf("column %d: %w", i, ErrColumnNameRequired))
			continue
		}
		if strings.TrimSpace(c.Type) == "" {
			errs = append(errs, fmt.Errorf("column %q: %w", c.Name, ErrColumnTypeRequired))
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("column %q: %w", c.Name, ErrColumnDuplicate))
		}
		seen[key] = true
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// With returns a new schema with extra appended. The receiver is not modified.
func (s Schema) With(extra ...Column) Schema {
	out := make(Schema, 0, len(s)+len(extra))
	out = append(out, s...)
	return append(out, extra...)
}

// Missing returns the columns of s whose names are absent from existing.
// Names are compared case-insensitively.
func (s Schema) Missing(existing []string) Schema {
	return s.missing(existing, strings.ToLower)
}

// MissingExact is Missing with case-sensitive name comparison, for backends
// whose quoted identifiers keep their case.
func (s Schema) MissingExact(existing []string) Schema {
	return s.missing(existing, func(name string) string { return name })
}

func (s Schema) missing(existing []string, key func(string) string) Schema {
	have := lo.SliceToMap(existing, func(name string) (string, struct{}) {
		return key(name), struct{}{}
	})
	return lo.Filter(s, func(c Column, _ int) bool {
		_, ok := have[key(c.Name)]
		return !ok
	})
}
