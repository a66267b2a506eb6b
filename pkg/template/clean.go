package template

import (
	"strings"
	"unicode"
)

var componentReplacer = strings.NewReplacer(
	" ", "_",
	".", "_",
	":", "-",
	"/", "-",
	`\`, "-",
	"?", "_",
	"*", "_",
	"<", "_smaller_",
	">", "_greater_",
	"|", "-",
	`"`, "_quote_",
)

// CleanComponent makes s safe to use as a single path component. It is the
// only place placeholder values are sanitized.
func CleanComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return componentReplacer.Replace(s)
}
