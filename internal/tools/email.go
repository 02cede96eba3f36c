package tools

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/llmspell-go/kernel/internal/registry"
	"github.com/llmspell-go/kernel/internal/render"
)

// SMTPConfig is the server half of the email tool's configuration.
// Per-call fields (to, subject, body, ...) arrive as tool arguments.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLS                bool // implicit TLS (465); false = STARTTLS
	NoTLS              bool // plain SMTP, no TLS at all
	InsecureSkipVerify bool
}

// emailTool builds the "email" tool spec. All string arguments support
// Go text/template syntax rendered against the optional "values" map
// argument, so a script can write
//
//	Tool.execute("email", {to = "ops@example.com", subject = "{{.values.env}} alert", ...})
func emailTool(sc *SMTPConfig) registry.ToolSpec {
	return registry.ToolSpec{
		Name:        "email",
		Description: "Send an email via the configured SMTP server. to/cc/bcc are comma-separated lists; subject and body are templates rendered against the values argument.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":           map[string]any{"type": "string", "description": "comma-separated recipients"},
				"cc":           map[string]any{"type": "string"},
				"bcc":          map[string]any{"type": "string"},
				"subject":      map[string]any{"type": "string"},
				"body":         map[string]any{"type": "string"},
				"content_type": map[string]any{"type": "string", "enum": []string{"text/plain", "text/html"}},
				"from":         map[string]any{"type": "string", "description": "sender override; defaults to the configured from address"},
				"reply_to":     map[string]any{"type": "string"},
				"values":       map[string]any{"type": "object", "description": "template context for subject/body/address fields"},
			},
			"required": []string{"to", "subject", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return sendEmail(ctx, sc, args)
		},
	}
}

func sendEmail(ctx context.Context, sc *SMTPConfig, args map[string]any) (any, error) {
	if sc.Host == "" {
		return nil, fmt.Errorf("email: smtp host is not configured")
	}
	port := sc.Port
	if port == 0 {
		port = 587
	}

	values, _ := args["values"].(map[string]any)
	tmplCtx := map[string]any{"values": values}

	to, err := renderField("to", args, tmplCtx)
	if err != nil {
		return nil, err
	}
	cc, err := renderField("cc", args, tmplCtx)
	if err != nil {
		return nil, err
	}
	bcc, err := renderField("bcc", args, tmplCtx)
	if err != nil {
		return nil, err
	}
	subject, err := renderField("subject", args, tmplCtx)
	if err != nil {
		return nil, err
	}
	body, err := renderField("body", args, tmplCtx)
	if err != nil {
		return nil, err
	}
	if to == "" {
		return nil, fmt.Errorf("email: 'to' is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("email: 'subject' is required")
	}

	from := sc.From
	if override, err := renderField("from", args, tmplCtx); err != nil {
		return nil, err
	} else if override != "" {
		from = override
	}
	if from == "" {
		return nil, fmt.Errorf("email: no 'from' address configured")
	}
	replyTo, err := renderField("reply_to", args, tmplCtx)
	if err != nil {
		return nil, err
	}

	contentType, _ := args["content_type"].(string)
	if contentType == "" {
		contentType = "text/plain"
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("email: set from: %w", err)
	}
	if err := m.To(splitAddresses(to)...); err != nil {
		return nil, fmt.Errorf("email: set to: %w", err)
	}
	if ccAddrs := splitAddresses(cc); len(ccAddrs) > 0 {
		if err := m.Cc(ccAddrs...); err != nil {
			return nil, fmt.Errorf("email: set cc: %w", err)
		}
	}
	if bccAddrs := splitAddresses(bcc); len(bccAddrs) > 0 {
		if err := m.Bcc(bccAddrs...); err != nil {
			return nil, fmt.Errorf("email: set bcc: %w", err)
		}
	}
	m.Subject(subject)
	m.SetBodyString(mail.ContentType(contentType), body)
	if replyTo != "" {
		if err := m.ReplyTo(replyTo); err != nil {
			return nil, fmt.Errorf("email: set reply-to: %w", err)
		}
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(30 * time.Second),
	}
	if sc.Username != "" || sc.Password != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(sc.Username), mail.WithPassword(sc.Password))
	}
	if sc.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		opts = append(opts, mail.WithTLSConfig(&tls.Config{
			ServerName:         sc.Host,
			InsecureSkipVerify: sc.InsecureSkipVerify,
		}))
		if sc.TLS {
			opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
		} else {
			opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
		}
	}

	c, err := mail.NewClient(sc.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("email: create client: %w", err)
	}

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return map[string]any{"status": "failed", "error": err.Error()}, fmt.Errorf("email: send: %w", err)
	}
	return map[string]any{"status": "sent", "to": splitAddresses(to)}, nil
}

// renderField renders one string argument as a template against
// tmplCtx, returning "" for absent/empty fields.
func renderField(name string, args, tmplCtx map[string]any) (string, error) {
	tmpl, _ := args[name].(string)
	if tmpl == "" {
		return "", nil
	}
	out, err := render.Execute(tmpl, tmplCtx)
	if err != nil {
		return "", fmt.Errorf("email: template %q: %w", name, err)
	}
	return string(out), nil
}

// splitAddresses splits comma- or semicolon-separated address lists,
// trimming whitespace and stray JSON punctuation.
func splitAddresses(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ";", ",")
	s = strings.NewReplacer("[", "", "]", "", "\"", "").Replace(s)

	parts := strings.Split(s, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}
