package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidExpression is returned for malformed watch expressions.
var ErrInvalidExpression = errors.New("invalid expression")

const arrow = "->"

// ParseExpression splits "root->a->b" into its root and member path.
func ParseExpression(expr string) (root string, path []string, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", nil, fmt.Errorf("empty expression: %w", ErrInvalidExpression)
	}

	parts := strings.Split(expr, arrow)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.ContainsAny(p, " \t\n") {
			return "", nil, fmt.Errorf("%q: segment %d: %w", expr, i, ErrInvalidExpression)
		}
		parts[i] = p
	}
	return parts[0], parts[1:], nil
}
