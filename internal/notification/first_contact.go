// internal/notification/first_contact.go

package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

var firstContactHTML = template.Must(template.New("first_contact").Parse(`
<p>Hei {{.ToName}},</p>
<p><strong>{{.FromName}}</strong> har sendt deg en melding om annonsen din
<strong>«{{.ListingTitle}}»</strong>.</p>
<p>Logg inn for å svare.</p>
`))

// FirstContactMailer formats and sends the one-time email a listing
// owner gets when a new chat about their listing receives its first
// message. It satisfies the chat package's FirstContactEmailer.
type FirstContactMailer struct {
	service EmailService
}

func NewFirstContactMailer(service EmailService) *FirstContactMailer {
	return &FirstContactMailer{service: service}
}

func (m *FirstContactMailer) SendFirstContactEmail(ctx context.Context, toEmail, toName, fromName, listingTitle string) error {
	data := struct {
		ToName       string
		FromName     string
		ListingTitle string
	}{toName, fromName, listingTitle}

	var html bytes.Buffer
	if err := firstContactHTML.Execute(&html, data); err != nil {
		return fmt.Errorf("render first-contact email: %w", err)
	}

	return m.service.SendEmail(ctx, &EmailNotification{
		To:      toEmail,
		ToName:  toName,
		Subject: fmt.Sprintf("%s har sendt deg en melding", fromName),
		Body:    fmt.Sprintf("Hei %s, %s har sendt deg en melding om annonsen «%s». Logg inn for å svare.", toName, fromName, listingTitle),
		HTML:    html.String(),
	})
}
