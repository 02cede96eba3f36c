// Package tools registers the kernel's builtin tools. Most tool
// implementations live outside the kernel; the ones shipped here exist
// because scripts need at least one side-effecting tool out of the box
// and they reuse infrastructure the kernel already carries (SMTP via
// go-mail, templating via render).
package tools

import (
	"github.com/llmspell-go/kernel/internal/registry"
)

// Config carries the settings builtin tools need. A zero Config
// registers only the tools that need no configuration.
type Config struct {
	SMTP *SMTPConfig
}

// RegisterBuiltins adds every builtin tool whose configuration is
// present. Safe to call once at component-build time; registration is
// idempotent per name (the registry's last write wins).
func RegisterBuiltins(reg *registry.Registry, cfg Config) error {
	if cfg.SMTP != nil {
		if err := reg.RegisterTool(emailTool(cfg.SMTP)); err != nil {
			return err
		}
	}
	return nil
}
