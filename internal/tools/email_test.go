package tools

import (
	"context"
	"testing"

	"github.com/llmspell-go/kernel/internal/registry"
)

func TestSplitAddresses(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a@b.com", []string{"a@b.com"}},
		{"a@b.com, c@d.com", []string{"a@b.com", "c@d.com"}},
		{"a@b.com; c@d.com", []string{"a@b.com", "c@d.com"}},
		{`["a@b.com", "c@d.com"]`, []string{"a@b.com", "c@d.com"}},
		{" , ,a@b.com, ", []string{"a@b.com"}},
	}
	for _, tc := range cases {
		got := splitAddresses(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("splitAddresses(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("splitAddresses(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestRenderFieldTemplates(t *testing.T) {
	args := map[string]any{"subject": "{{.values.env}} alert"}
	tmplCtx := map[string]any{"values": map[string]any{"env": "prod"}}
	out, err := renderField("subject", args, tmplCtx)
	if err != nil {
		t.Fatalf("renderField: %v", err)
	}
	if out != "prod alert" {
		t.Fatalf("got %q", out)
	}
}

func TestEmailToolValidatesArguments(t *testing.T) {
	spec := emailTool(&SMTPConfig{Host: "smtp.example.com", From: "kernel@example.com"})

	_, err := spec.Handler(context.Background(), map[string]any{"subject": "s", "body": "b"})
	if err == nil {
		t.Fatal("expected an error for a missing 'to' argument")
	}

	unconfigured := emailTool(&SMTPConfig{})
	_, err = unconfigured.Handler(context.Background(), map[string]any{"to": "a@b.com", "subject": "s", "body": "b"})
	if err == nil {
		t.Fatal("expected an error when smtp host is unset")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New(nil)
	if err := RegisterBuiltins(reg, Config{}); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	if _, ok := reg.GetTool("email"); ok {
		t.Fatal("email tool should not register without SMTP config")
	}

	if err := RegisterBuiltins(reg, Config{SMTP: &SMTPConfig{Host: "smtp.example.com"}}); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	if _, ok := reg.GetTool("email"); !ok {
		t.Fatal("email tool should register when SMTP is configured")
	}
}
