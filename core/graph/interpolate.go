package graph

import (
	"fmt"
	"regexp"
)

var variableTokenRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Interpolate replaces {{name}} tokens with the stringified variable
// value. Unresolved tokens are left verbatim so a missing variable shows
// up in the spoken text instead of vanishing silently.
func Interpolate(template string, variables map[string]any) string {
	return variableTokenRe.ReplaceAllStringFunc(template, func(token string) string {
		name := token[2 : len(token)-2]
		value, ok := variables[name]
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", value)
	})
}
