package template

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// EmailMessage is a rendered email.
type EmailMessage struct {
	Subject string
	Text    string
	HTML    string
}

// EmailRenderer turns markdown template bodies into text and HTML parts.
// Safe for concurrent use.
type EmailRenderer struct {
	md goldmark.Markdown
}

func NewEmailRenderer() *EmailRenderer {
	return &EmailRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// Render fills placeholders in subject and body and converts the body to HTML.
func (r *EmailRenderer) Render(subject, content string, values map[string]string) (EmailMessage, error) {
	text := Substitute(content, values)

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return EmailMessage{}, fmt.Errorf("render email body: %w", err)
	}

	return EmailMessage{
		Subject: strings.TrimSpace(Substitute(subject, values)),
		Text:    text,
		HTML:    SanitizeHTML(buf.String()),
	}, nil
}

var htmlArtifacts = strings.NewReplacer(
	"%5B", "",
	"%5D", "",
	"(", "",
	")", "",
)

// SanitizeHTML removes the encoded brackets and parentheses left behind when
// placeholders pass through link rendering.
func SanitizeHTML(s string) string {
	return htmlArtifacts.Replace(s)
}
