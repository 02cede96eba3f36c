// Package render executes Go text templates with mugo's standard
// function map (string, math, encoding, and file helpers). It backs
// the script bridge's Template global and the builtin email tool's
// templated address/subject/body fields.
package render

import (
	"bytes"
	"log/slog"

	"github.com/rytsh/mugo/fstore"
	_ "github.com/rytsh/mugo/fstore/registry"
	"github.com/rytsh/mugo/templatex"
)

// Execute renders content against data with the standard function map.
func Execute(content string, data any) ([]byte, error) {
	return ExecuteWithFuncs(content, data, nil)
}

// ExecuteWithFuncs renders content against data, layering extraFuncs on
// top of the standard function map for callers that inject
// per-execution functions (e.g. a tool exposing its runtime values).
func ExecuteWithFuncs(content string, data any, extraFuncs map[string]any) ([]byte, error) {
	tpl := templatex.New(
		templatex.WithAddFuncMapWithOpts(func(o templatex.Option) map[string]any {
			return fstore.FuncMap(
				fstore.WithLog(slog.Default()),
				fstore.WithTrust(true),
				fstore.WithExecuteTemplate(o.T),
			)
		}),
		templatex.WithAddFuncMap(extraFuncs),
	)

	var buf bytes.Buffer
	if err := tpl.Execute(
		templatex.WithIO(&buf),
		templatex.WithContent(content),
		templatex.WithData(data),
	); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
