package core

import (
	"bytes"
	htmltmpl "html/template"
	"net/mail"
	"strings"
)

var htmlBody = htmltmpl.Must(htmltmpl.New("body").Parse(
	`<html><body>{{range .}}<p>{{.}}</p>{{end}}</body></html>`,
))

type (
	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Bcc     []mail.Address
		Subject string
		BodyStr string // simple text/plain content

		// Category tags the message for delivery stats (e.g. "marks").
		Category string

		TextContent string
		HTMLContent string
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// Render fills the text and HTML contents from BodyStr. Blank lines separate paragraphs.
func (m *EmailMessage) Render() error {
	m.TextContent = m.BodyStr
	if m.BodyStr == "" {
		return nil
	}

	paragraphs := make([]string, 0)
	for _, p := range strings.Split(m.BodyStr, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	var buff bytes.Buffer
	if err := htmlBody.Execute(&buff, paragraphs); err != nil {
		return err
	}
	m.HTMLContent = buff.String()
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }
