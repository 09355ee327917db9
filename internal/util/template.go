package util

import (
	"bytes"
	"strings"
	"text/template"
)

// RenderTemplate replaces template variables using Go's text/template package.
// This lives in internal to avoid committing to public API stability prematurely.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := ParseTemplate(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ParseTemplate parses a prompt template with the shared helper funcs. Exposed
// separately so configuration loading can validate templates once at startup.
func ParseTemplate(text string) (*template.Template, error) {
	return template.New("prompt").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(sep string, items []string) string {
			return strings.Join(items, sep)
		},
		"trunc": func(n int, s string) string {
			if n <= 0 || len(s) <= n {
				return s
			}
			return s[:n]
		},
	}).Option("missingkey=zero").Parse(text)
}

// TruncateTokens caps text at n whitespace-delimited tokens.
func TruncateTokens(text string, n int) string {
	if n <= 0 {
		return text
	}
	fields := strings.Fields(text)
	if len(fields) <= n {
		return text
	}
	return strings.Join(fields[:n], " ")
}
