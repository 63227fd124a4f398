package notify

import (
	"bytes"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/yuin/goldmark"
)

//go:embed templates/*.md.tmpl
var templateFS embed.FS

// Message is a rendered email ready for a Sender.
type Message struct {
	Subject string
	HTML    string
}

// Renderer turns the Markdown email templates into HTML. Links are built
// from a public base URL, e.g. https://app.example.com/verify?token=...
type Renderer struct {
	baseURL *url.URL
	tmpl    *template.Template
	md      goldmark.Markdown
}

func NewRenderer(baseURL string) (*Renderer, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid public base url %q", baseURL)
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Renderer{baseURL: u, tmpl: tmpl, md: goldmark.New()}, nil
}

type mailData struct {
	Name string
	Link string
	TTL  string
}

// Verification renders the email that carries the verification link.
func (r *Renderer) Verification(name, tok string, ttl time.Duration) (Message, error) {
	return r.render("verify.md.tmpl", "Please verify your email address", name, "/verify", tok, ttl)
}

// PasswordReset renders the email that carries the reset link.
func (r *Renderer) PasswordReset(name, tok string, ttl time.Duration) (Message, error) {
	return r.render("reset.md.tmpl", "Reset your password", name, "/reset-password", tok, ttl)
}

// Link returns the absolute URL for path with the token as query parameter.
func (r *Renderer) Link(path, tok string) string {
	u := *r.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = url.Values{"token": {tok}}.Encode()
	return u.String()
}

func (r *Renderer) render(name, subject, recipient, path, tok string, ttl time.Duration) (Message, error) {
	if recipient == "" {
		recipient = "there"
	}
	var src bytes.Buffer
	err := r.tmpl.ExecuteTemplate(&src, name, mailData{
		Name: escapeMarkdown(recipient),
		Link: r.Link(path, tok),
		TTL:  humanDuration(ttl),
	})
	if err != nil {
		return Message{}, fmt.Errorf("execute %s: %w", name, err)
	}
	var out bytes.Buffer
	if err := r.md.Convert(src.Bytes(), &out); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{Subject: subject, HTML: out.String()}, nil
}

// escapeMarkdown backslash-escapes ASCII punctuation so user-supplied text
// renders literally.
func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c < 0x80 && strings.ContainsRune("\\`*_{}[]()<>#+-.!|~&\"'", c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
