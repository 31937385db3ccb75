package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"
)

// EmailSender delivers operational notifications to tenant contacts and
// platform admins.
type EmailSender interface {
	SendQuotaAlert(tenant models.Tenant, alertLevel string, data QuotaAlertData) error
	SendQualityReviewDigest(tenant models.Tenant, data QualityReviewData) error
}

type SMTPEmailSender struct {
	config *config.Config
}

type QuotaAlertData struct {
	TenantName      string
	UsedTokens      int
	TotalTokens     int
	RemainingTokens int
	PercentUsed     float64
}

// QualityReviewData lists knowledge base documents whose ratings pinned
// them at the quality floor.
type QualityReviewData struct {
	TenantName string
	Documents  []FlaggedDocument
}

type FlaggedDocument struct {
	DocumentID string
	Title      string
	Upvotes    int
	Downvotes  int
	Multiplier float64
}

func NewSMTPEmailSender(cfg *config.Config) *SMTPEmailSender {
	return &SMTPEmailSender{config: cfg}
}

func (s *SMTPEmailSender) SendQuotaAlert(tenant models.Tenant, alertLevel string, data QuotaAlertData) error {
	recipients := s.recipients(tenant)
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients configured for tenant %s", tenant.Name)
	}

	subject, htmlBody, textBody, err := s.quotaAlertContent(alertLevel, data)
	if err != nil {
		return fmt.Errorf("failed to generate email content: %w", err)
	}

	return s.sendEmail(recipients, subject, htmlBody, textBody)
}

func (s *SMTPEmailSender) SendQualityReviewDigest(tenant models.Tenant, data QualityReviewData) error {
	recipients := s.recipients(tenant)
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients configured for tenant %s", tenant.Name)
	}

	subject := fmt.Sprintf("Knowledge base review needed - %s (%d documents)", data.TenantName, len(data.Documents))

	htmlBody, err := renderTemplate("quality_html", qualityReviewHTMLTemplate, data)
	if err != nil {
		return fmt.Errorf("failed to generate email content: %w", err)
	}
	textBody, err := renderTemplate("quality_text", qualityReviewTextTemplate, data)
	if err != nil {
		return fmt.Errorf("failed to generate email content: %w", err)
	}

	return s.sendEmail(recipients, subject, htmlBody, textBody)
}

func (s *SMTPEmailSender) recipients(tenant models.Tenant) []string {
	recipients := []string{}
	if tenant.ContactEmail != "" {
		recipients = append(recipients, tenant.ContactEmail)
	}
	for _, adminEmail := range s.config.AdminEmails {
		if strings.TrimSpace(adminEmail) != "" {
			recipients = append(recipients, strings.TrimSpace(adminEmail))
		}
	}
	return recipients
}

// quotaSeverity carries the level-specific wording threaded through the
// shared alert templates.
type quotaSeverity struct {
	Heading  string
	Alarm    string
	Guidance string
}

var quotaSeverities = map[string]quotaSeverity{
	"warn": {
		Heading:  "Token usage warning",
		Guidance: "Consider raising the limit or keeping a closer eye on usage.",
	},
	"critical": {
		Heading:  "Token usage critical",
		Alarm:    "URGENT",
		Guidance: "Raise the limit now to avoid service interruption.",
	},
	"exhausted": {
		Heading:  "Tokens exhausted",
		Alarm:    "SERVICE IMPACT",
		Guidance: "Questions are being rejected until tokens are replenished.",
	},
}

func (s *SMTPEmailSender) quotaAlertContent(alertLevel string, data QuotaAlertData) (subject, htmlBody, textBody string, err error) {
	sev, ok := quotaSeverities[alertLevel]
	if !ok {
		return "", "", "", fmt.Errorf("unknown alert level: %s", alertLevel)
	}

	subject = fmt.Sprintf("%s - %s (%.0f%% used)", sev.Heading, data.TenantName, data.PercentUsed)
	if sev.Alarm != "" {
		subject = sev.Alarm + ": " + subject
	}

	view := struct {
		Severity quotaSeverity
		Data     QuotaAlertData
	}{sev, data}

	if htmlBody, err = renderTemplate("quota_html", quotaAlertHTMLTemplate, view); err != nil {
		return "", "", "", err
	}
	if textBody, err = renderTemplate("quota_text", quotaAlertTextTemplate, view); err != nil {
		return "", "", "", err
	}
	return subject, htmlBody, textBody, nil
}

func renderTemplate(name, tpl string, data interface{}) (string, error) {
	t, err := template.New(name).Parse(tpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// mimeBoundary separates the plain-text and HTML alternatives. A fixed
// token is fine here because both parts are generated, never user input.
const mimeBoundary = "kbsp-alt-9d41c7"

func (s *SMTPEmailSender) sendEmail(recipients []string, subject, htmlBody, textBody string) error {
	auth := smtp.PlainAuth("", s.config.SMTPUser, s.config.SMTPPass, s.config.SMTPHost)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.config.SMTPFrom)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mimeBoundary)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", mimeBoundary, textBody)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", mimeBoundary, htmlBody)
	fmt.Fprintf(&msg, "--%s--", mimeBoundary)

	addr := fmt.Sprintf("%s:%s", s.config.SMTPHost, s.config.SMTPPort)
	return smtp.SendMail(addr, auth, s.config.SMTPFrom, recipients, []byte(msg.String()))
}

// Email templates

const quotaAlertHTMLTemplate = `<html><body>
<h2{{if .Severity.Alarm}} style="color: red;"{{end}}>{{.Severity.Heading}}</h2>
<p>Hello,</p>
<p>{{if .Severity.Alarm}}<strong style="color: red;">{{.Severity.Alarm}}:</strong> {{end}}Your knowledge base <strong>{{.Data.TenantName}}</strong> has used <strong>{{printf "%.0f" .Data.PercentUsed}}%</strong> of its token allocation: {{.Data.UsedTokens}} of {{.Data.TotalTokens}}, {{.Data.RemainingTokens}} remaining.</p>
<p>{{.Severity.Guidance}}</p>
</body></html>`

const quotaAlertTextTemplate = `{{.Severity.Heading}}

Hello,

{{if .Severity.Alarm}}{{.Severity.Alarm}}: {{end}}Your knowledge base {{.Data.TenantName}} has used {{printf "%.0f" .Data.PercentUsed}}% of its token allocation: {{.Data.UsedTokens}} of {{.Data.TotalTokens}}, {{.Data.RemainingTokens}} remaining.

{{.Severity.Guidance}}`

const qualityReviewHTMLTemplate = `<html><body>
<h2>Knowledge Base Review Needed</h2>
<p>Hello,</p>
<p>The following documents in <strong>{{.TenantName}}</strong> are consistently rated unhelpful by readers. Answers citing them are ranked down; consider replacing or removing them.</p>
<table border="1" cellpadding="4">
<tr><th>Document</th><th>Upvotes</th><th>Downvotes</th><th>Multiplier</th></tr>
{{range .Documents}}<tr><td>{{.Title}} ({{.DocumentID}})</td><td>{{.Upvotes}}</td><td>{{.Downvotes}}</td><td>{{printf "%.2f" .Multiplier}}</td></tr>
{{end}}</table>
</body></html>`

const qualityReviewTextTemplate = `Knowledge Base Review Needed

Hello,

The following documents in {{.TenantName}} are consistently rated unhelpful by readers. Answers citing them are ranked down; consider replacing or removing them.

{{range .Documents}}- {{.Title}} ({{.DocumentID}}): {{.Upvotes}} up / {{.Downvotes}} down, multiplier {{printf "%.2f" .Multiplier}}
{{end}}`
