package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"simjur/internal/model"
	"simjur/internal/simjur"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// EmailSink mails notifications to the active users holding the target roles.
type EmailSink struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	database   simjur.Database
}

// NewEmailSink creates a SendGrid sink. An empty host uses the SendGrid API.
func NewEmailSink(apiKey, host, fromName, fromEmail string, database simjur.Database) *EmailSink {
	if host == "" {
		host = sendgridHost
	}
	return &EmailSink{
		key:        apiKey,
		host:       host,
		from:       sgmail.NewEmail(fromName, fromEmail),
		subjPrefix: "[" + fromName + "] ",
		database:   database,
	}
}

func (s *EmailSink) Name() string { return "sendgrid" }

func (s *EmailSink) Send(ctx context.Context, n model.Notification) error {
	roles := n.TargetRoles
	if len(roles) == 0 {
		roles = model.AllRoles
	}
	users, err := s.database.ListUsersByRoles(ctx, roles)
	if err != nil {
		return fmt.Errorf("listing recipients: %w", err)
	}

	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + n.Title
	recipients := 0
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		p.AddTos(sgmail.NewEmail(u.Name, u.Email))
		recipients++
	}
	if recipients == 0 {
		return nil
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", n.Message))

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

var _ Sink = (*EmailSink)(nil)
