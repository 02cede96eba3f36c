package render

import (
	"strings"
	"testing"
)

func TestExecuteRendersData(t *testing.T) {
	out, err := Execute("alert: {{ .env }}/{{ .service }}", map[string]any{
		"env": "prod", "service": "kernel",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != "alert: prod/kernel" {
		t.Fatalf("got %q", out)
	}
}

func TestExecuteWithFuncsLayersExtras(t *testing.T) {
	out, err := ExecuteWithFuncs(`{{ shout .word }}`, map[string]any{"word": "quiet"}, map[string]any{
		"shout": func(s string) string { return strings.ToUpper(s) + "!" },
	})
	if err != nil {
		t.Fatalf("ExecuteWithFuncs: %v", err)
	}
	if string(out) != "QUIET!" {
		t.Fatalf("got %q", out)
	}
}

func TestExecuteBadTemplateErrors(t *testing.T) {
	if _, err := Execute("{{ .unclosed", nil); err == nil {
		t.Fatal("expected a parse error")
	}
}
