package manifest

import (
	"fmt"
	"maps"
	"os"
	"strings"
	"text/template"
)

// templateEngine handles text template rendering with variable substitution.
type templateEngine struct {
	defines map[string]string
	funcs   template.FuncMap
}

// newTemplateEngine creates a new engine with the provided global definitions.
func newTemplateEngine(defines map[string]string) *templateEngine {
	d := make(map[string]string)
	maps.Copy(d, defines)
	return &templateEngine{
		defines: d,
		funcs: template.FuncMap{
			"env": os.Getenv,
		},
	}
}

// sub creates a new templateEngine that inherits the parent's definitions
// and adds (or overrides) them with the provided local definitions.
func (e *templateEngine) sub(locals map[string]string) *templateEngine {
	newDefines := maps.Clone(e.defines)
	maps.Copy(newDefines, locals)
	return &templateEngine{
		defines: newDefines,
		funcs:   e.funcs,
	}
}

// render executes the provided text as a template using the engine's definitions.
// If the text does not contain "{{", it is returned as-is.
func (e *templateEngine) render(name, text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New(name).Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := t.Execute(&buf, e.defines); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderer renders many fields and keeps the first error, so that callers can
// check once after a batch of fields.
type renderer struct {
	e      *templateEngine
	prefix string
	err    error
}

func (r *renderer) str(field, text string) string {
	if r.err != nil {
		return ""
	}
	out, err := r.e.render(r.prefix+field, text)
	if err != nil {
		r.err = fmt.Errorf("rendering %s%s: %w", r.prefix, field, err)
	}
	return out
}

func (r *renderer) list(field string, items []string) []string {
	var out []string
	for i, item := range items {
		out = append(out, r.str(fmt.Sprintf("%s[%d]", field, i), item))
	}
	return out
}
