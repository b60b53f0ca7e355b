// Package template renders SMS and email content from a template body and
// per-recipient personalisation.
package template

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\(\(([^()]+)\)\)`)

func normaliseKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// Substitute replaces ((name)) placeholders with values. Names match case
// and whitespace insensitively. Placeholders with no value are left as is.
func Substitute(content string, values map[string]string) string {
	if len(values) == 0 {
		return content
	}

	lookup := make(map[string]string, len(values))
	for k, v := range values {
		lookup[normaliseKey(k)] = v
	}

	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := lookup[normaliseKey(name)]; ok {
			return v
		}
		return match
	})
}

// Placeholders lists the placeholder names in content, in order of first use.
func Placeholders(content string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		key := normaliseKey(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, strings.TrimSpace(m[1]))
	}
	return names
}
