package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Template is a prompt with {{variable}} placeholders.
type Template struct {
	text string
	vars []string
}

// Parse records the placeholders of text in order of first appearance.
func Parse(text string) Template {
	return Template{text: text, vars: ExtractVariables(text)}
}

func (t Template) Variables() []string {
	return append([]string(nil), t.vars...)
}

// Render substitutes every placeholder. A placeholder without a value is an error
// rather than being left in the prompt sent to the model.
func (t Template) Render(vars map[string]string) (string, error) {
	var missing []string
	for _, v := range t.vars {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	return variablePattern.ReplaceAllStringFunc(t.text, func(match string) string {
		return vars[match[2:len(match)-2]]
	}), nil
}

// Render is a shorthand for Parse(text).Render(vars).
func Render(text string, vars map[string]string) (string, error) {
	return Parse(text).Render(vars)
}

// ExtractVariables returns the distinct placeholder names in text.
func ExtractVariables(text string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, m := range variablePattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			vars = append(vars, m[1])
			seen[m[1]] = true
		}
	}
	return vars
}
