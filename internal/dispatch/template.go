package dispatch

import (
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// RenderTemplate substitutes {{variable}} placeholders in a prompt template.
// Lookup is case-insensitive; unknown variables render as the empty string.
func RenderTemplate(tmpl string, vars map[string]string) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	lower := make(map[string]string, len(vars))
	for k, v := range vars {
		lower[strings.ToLower(k)] = v
	}

	return templateVarPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := templateVarPattern.FindStringSubmatch(m)[1]
		return lower[strings.ToLower(name)]
	})
}
