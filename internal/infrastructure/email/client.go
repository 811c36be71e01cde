// Package email provides the email client for sending operator alerts.
package email

import (
	"fmt"
	"os"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/email/templates"
	"github.com/resendlabs/resend-go"
)

// Service defines the interface for sending alert emails, allowing for mock
// implementations in tests.
type Service interface {
	SendBanAlert(record *captcha.BanRecord) error
	SendIncidentAlert(incident *captcha.SecurityIncident) error
}

// ResendClient is the concrete implementation of the email Service using the Resend API.
type ResendClient struct {
	client    *resend.Client
	fromEmail string
	fromName  string
	toEmail   string
}

// NewService creates a new alert email client, returning the Service interface.
func NewService() (Service, error) {
	apiKey := os.Getenv("RESEND_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY environment variable is required")
	}

	toEmail := os.Getenv("ALERT_EMAIL_TO")
	if toEmail == "" {
		return nil, fmt.Errorf("ALERT_EMAIL_TO environment variable is required")
	}

	fromEmail := os.Getenv("ALERT_EMAIL_FROM")
	if fromEmail == "" {
		fromEmail = "alerts@dropforge.io"
	}

	fromName := os.Getenv("ALERT_EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "DropForge Security"
	}

	return &ResendClient{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
		toEmail:   toEmail,
	}, nil
}

// SendBanAlert composes and sends a notification for an automated account ban.
func (c *ResendClient) SendBanAlert(record *captcha.BanRecord) error {
	subject := fmt.Sprintf("Account banned: %s", record.UserID)

	details := map[string]string{
		"Banned user": record.UserID,
		"Reason":      record.Reason,
		"Severity":    record.Severity,
		"Issued by":   record.IssuedBy,
	}
	if len(record.Evidence) > 0 {
		details["Collision type"] = string(record.Evidence[0].Type)
		details["Confidence"] = fmt.Sprintf("%.2f", record.Evidence[0].Confidence)
		details["Original account"] = record.Evidence[0].OriginalUserID
	}

	htmlContent := templates.GetAlertEmailHTML(templates.AlertEmailProps{
		Title:      "Automated account ban",
		Intro:      "Multi-account collision detection banned a duplicate account.",
		Details:    details,
		DetectedAt: record.CreatedAt.Format(time.RFC3339),
	})
	if htmlContent == "" {
		return fmt.Errorf("failed to render ban alert email body")
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail),
		To:      []string{c.toEmail},
		Subject: subject,
		Html:    htmlContent,
	}

	_, err := c.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send ban alert via Resend: %w", err)
	}

	return nil
}

// SendIncidentAlert composes and sends a notification for a recorded security incident.
func (c *ResendClient) SendIncidentAlert(incident *captcha.SecurityIncident) error {
	subject := fmt.Sprintf("Security incident: %s", incident.Kind)

	htmlContent := templates.GetAlertEmailHTML(templates.AlertEmailProps{
		Title: "Security incident recorded",
		Intro: "A new incident was written to the security log.",
		Details: map[string]string{
			"Incident":      incident.Kind,
			"Affected user": incident.UserID,
			"Severity":      incident.Severity,
			"Summary":       incident.Summary,
		},
		DetectedAt: incident.CreatedAt.Format(time.RFC3339),
	})
	if htmlContent == "" {
		return fmt.Errorf("failed to render incident alert email body")
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail),
		To:      []string{c.toEmail},
		Subject: subject,
		Html:    htmlContent,
	}

	_, err := c.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send incident alert via Resend: %w", err)
	}

	return nil
}
