package access

import (
	"fmt"
	"strings"

	"aquaduct.dev/sluice/types"
)

// ArgumentError reports an invalid argument, such as a scope string
// outside the closed vocabulary. It is a caller programming error:
// surfaced immediately, never retried.
type ArgumentError struct {
	// Name is the argument that was invalid.
	Name string

	// Value is the offending value.
	Value string

	// Message describes the failure.
	Message string
}

func (e *ArgumentError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s: %q", e.Name, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// ValidateScopes checks that every requested scope is a member of the
// closed scope vocabulary, and of validScopes when that subset is
// non-empty (a port-scoped token, for example, cannot request
// tunnel-level manage). With allowMultiple, each input item is first
// split on spaces, supporting tokens that carry combined scope grants.
func ValidateScopes(scopes []string, validScopes []string, allowMultiple bool) error {
	if allowMultiple {
		var split []string
		for _, s := range scopes {
			split = append(split, strings.Split(s, " ")...)
		}
		scopes = split
	}

	for _, scope := range scopes {
		if scope == "" {
			return &ArgumentError{Name: "scopes", Message: "scope must not be empty"}
		}
		if !contains(types.AllScopes, scope) {
			return &ArgumentError{Name: "scopes", Message: "invalid scope", Value: scope}
		}
		if len(validScopes) > 0 && !contains(validScopes, scope) {
			return &ArgumentError{Name: "scopes", Message: "scope not valid in this context", Value: scope}
		}
	}
	return nil
}
