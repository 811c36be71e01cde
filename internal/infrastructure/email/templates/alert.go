// Package templates provides email template rendering for operator alerts.
package templates

import (
	"bytes"
	"html/template"
	"log"
)

// AlertEmailProps carries the fields rendered into a security alert email.
type AlertEmailProps struct {
	Title      string
	Intro      string
	Details    map[string]string
	DetectedAt string
}

type alertTemplateData struct {
	Title      string
	Intro      string
	Details    map[string]string
	DetectedAt string
}

var alertTemplate = template.Must(template.New("securityAlert").Parse(`
<!doctype html>
<html>
  <body style="background-color: #f4f5f6; font-family: Helvetica, sans-serif; font-size: 16px; line-height: 1.3; margin: 0; padding: 0;">
    <table role="presentation" border="0" cellpadding="0" cellspacing="0" width="100%" style="background-color: #f4f5f6;">
      <tr>
        <td>&nbsp;</td>
        <td style="max-width: 600px; padding: 24px; margin: 0 auto; display: block;">
          <table role="presentation" border="0" cellpadding="0" cellspacing="0" width="100%" style="background: #ffffff; border-radius: 8px;">
            <tr>
              <td style="padding: 24px;">
                <h1 style="font-size: 20px; margin: 0 0 16px;">{{.Title}}</h1>
                <p style="margin: 0 0 16px;">{{.Intro}}</p>
                <table role="presentation" border="0" cellpadding="6" cellspacing="0" width="100%" style="font-size: 14px; border-collapse: collapse;">
                  {{range $key, $value := .Details}}
                  <tr>
                    <td style="border-bottom: 1px solid #eaeaea; font-weight: bold; width: 40%;">{{$key}}</td>
                    <td style="border-bottom: 1px solid #eaeaea;">{{$value}}</td>
                  </tr>
                  {{end}}
                </table>
                <p style="margin: 16px 0 0; color: #666666; font-size: 13px;">Detected at {{.DetectedAt}}</p>
              </td>
            </tr>
          </table>
        </td>
        <td>&nbsp;</td>
      </tr>
    </table>
  </body>
</html>
`))

// GetAlertEmailHTML renders the alert email body.
func GetAlertEmailHTML(props AlertEmailProps) string {
	var buf bytes.Buffer
	err := alertTemplate.Execute(&buf, alertTemplateData{
		Title:      props.Title,
		Intro:      props.Intro,
		Details:    props.Details,
		DetectedAt: props.DetectedAt,
	})
	if err != nil {
		log.Printf("Error executing alert email template: %v", err)
		return ""
	}
	return buf.String()
}
