package globals

import "github.com/llmspell-go/kernel/internal/render"

// TemplateGlobal is the canonical Template global: Go-template
// rendering with the mugo function map (internal/render/render.go),
// exposed directly to scripts so a script doesn't need its own
// templating dependency.
type TemplateGlobal struct{}

// Render executes content as a Go template against data using mugo's
// standard function map (string/math/encoding helpers), returning the
// rendered string.
func (TemplateGlobal) Render(content string, data map[string]any) (string, error) {
	out, err := render.Execute(content, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
