package globals

import "log/slog"

// LoggerGlobal exposes the kernel's own logging idiom to scripts. It
// wraps the context-scoped
// *slog.Logger logi.Ctx already resolves for every other component, so
// a script's log lines carry the same fields (kernel id, execution id)
// as the Go-side log output they're interleaved with.
type LoggerGlobal struct {
	logger *slog.Logger
}

func (g *LoggerGlobal) Debug(msg string, fields map[string]any) { g.logger.Debug(msg, flatten(fields)...) }
func (g *LoggerGlobal) Info(msg string, fields map[string]any)  { g.logger.Info(msg, flatten(fields)...) }
func (g *LoggerGlobal) Warn(msg string, fields map[string]any)  { g.logger.Warn(msg, flatten(fields)...) }
func (g *LoggerGlobal) Error(msg string, fields map[string]any) { g.logger.Error(msg, flatten(fields)...) }

// flatten turns a script-supplied field map into slog's alternating
// key/value argument convention.
func flatten(fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
