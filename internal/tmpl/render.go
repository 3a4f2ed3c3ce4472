// Package tmpl renders bulk-send message templates by literal token
// substitution.
package tmpl

import (
	"regexp"
	"strings"

	"teletriage/internal/store"
)

var tokenRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render replaces every {{name}} token with ctx[name] when the value is
// non-empty. Unknown or empty tokens stay verbatim so a rendering gap is
// visible in the preview instead of silently blanking out. Single pass, no
// escaping, no recursion.
func Render(template string, ctx map[string]string) string {
	return tokenRe.ReplaceAllStringFunc(template, func(token string) string {
		key := token[2 : len(token)-2]
		if value, ok := ctx[key]; ok && value != "" {
			return value
		}
		return token
	})
}

// FirstName extracts the first word of a display name.
func FirstName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Context builds the substitution context for a conversation: identity
// fields overlaid with any CSV-imported custom fields. A custom field named
// like an identity key shadows it, so an imported nickname can replace the
// synced display name.
func Context(conv *store.Conversation, meta *store.Metadata) map[string]string {
	ctx := map[string]string{
		"display_name": conv.DisplayName,
		"first_name":   FirstName(conv.DisplayName),
		"username":     conv.Username,
	}
	if meta != nil {
		for k, v := range meta.CustomFields {
			ctx[k] = v
		}
	}
	return ctx
}
