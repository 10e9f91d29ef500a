package source

import (
	"fmt"
	"regexp"
	"strings"
)

// namedParamRegex matches named parameters like :param_name or :paramName
var namedParamRegex = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// ConvertNamedToPositional converts named parameters (:param) to the
// driver's positional placeholders and returns the ordered values.
// Numbered placeholders ($1) are reused for repeated names; anonymous ones
// (?) repeat the value. PostgreSQL casts (::type) are left alone.
func ConvertNamedToPositional(query string, params map[string]any, placeholder func(int) string) (string, []any, error) {
	matches := namedParamRegex.FindAllStringSubmatchIndex(query, -1)
	if len(matches) == 0 {
		return query, nil, nil
	}

	numbered := placeholder(1) != placeholder(2)
	positions := make(map[string]int)
	var ordered []any
	var result strings.Builder

	lastEnd := 0
	for _, match := range matches {
		paramStart, paramEnd := match[0], match[1]
		if paramStart > 0 && query[paramStart-1] == ':' {
			continue
		}
		name := query[match[2]:match[3]]

		value, ok := params[name]
		if !ok {
			return "", nil, fmt.Errorf("parameter %q not found in params", name)
		}

		result.WriteString(query[lastEnd:paramStart])

		pos, seen := positions[name]
		if !seen || !numbered {
			ordered = append(ordered, value)
			pos = len(ordered)
			positions[name] = pos
		}
		result.WriteString(placeholder(pos))

		lastEnd = paramEnd
	}
	result.WriteString(query[lastEnd:])

	return result.String(), ordered, nil
}
