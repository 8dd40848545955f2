package notify

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"text/template"
)

// Outbox accepts messages for asynchronous delivery
type Outbox interface {
	Enqueue(msg Message)
}

// Mailer renders account notifications and queues them
type Mailer struct {
	outbox  Outbox
	baseURL string
}

// NewMailer creates a Mailer. baseURL prefixes links placed in messages.
func NewMailer(outbox Outbox, baseURL string) *Mailer {
	return &Mailer{outbox: outbox, baseURL: strings.TrimRight(baseURL, "/")}
}

var templates = template.Must(template.New("mail").Parse(`
{{define "registration"}}Hello {{.Handle}},

An account has been created for you with the role "{{.Role}}".
Scan the enrollment QR code provided by your administrator with an
authenticator app to set up two-factor authentication.
{{end}}
{{define "locked"}}Hello {{.Handle}},

Your account has been locked after too many failed login attempts.
It will unlock automatically at {{.Until}}.
If this was not you, request an unlock link and change your password.
{{end}}
{{define "reset"}}Hello {{.Handle}},

A password reset was requested for your account. Use the link below
within the next {{.MaxAge}} to choose a new password:

{{.Link}}

If you did not request this, you can ignore this message.
{{end}}
{{define "otp"}}Hello {{.Handle}},

Your two-factor authentication code is: {{.Code}}
{{end}}
{{define "unlock"}}Hello {{.Handle}},

Use the link below within the next {{.MaxAge}} to unlock your account:

{{.Link}}
{{end}}
{{define "suspicious"}}Suspicious login attempt detected.

Account:  {{.Handle}}
Address:  {{.SourceAddr}}
Agent:    {{.Agent}}
Event:    {{.Kind}}

The address does not appear among the account's recent successful logins.
{{end}}
`))

func (m *Mailer) queue(subject, recipient, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to render %s message: %w", name, err)
	}
	m.outbox.Enqueue(Message{Subject: subject, Recipient: recipient, Body: buf.String()})
	return nil
}

func (m *Mailer) link(path, param, value string) string {
	return m.baseURL + path + "?" + url.Values{param: {value}}.Encode()
}

// Registration confirms a new account to its owner
func (m *Mailer) Registration(recipient, handle, role string) error {
	return m.queue("Registration Confirmation", recipient, "registration", map[string]string{
		"Handle": handle,
		"Role":   role,
	})
}

// AccountLocked tells the owner their account locked
func (m *Mailer) AccountLocked(recipient, handle, until string) error {
	return m.queue("Account Locked", recipient, "locked", map[string]string{
		"Handle": handle,
		"Until":  until,
	})
}

// PasswordReset sends a reset link carrying token
func (m *Mailer) PasswordReset(recipient, handle, token, maxAge string) error {
	return m.queue("Password Reset Request", recipient, "reset", map[string]string{
		"Handle": handle,
		"Link":   m.link("/v1/auth/reset_password", "token", token),
		"MaxAge": maxAge,
	})
}

// OTPCode sends a one-time code for the second factor
func (m *Mailer) OTPCode(recipient, handle, code string) error {
	return m.queue("Two-Factor Authentication Code", recipient, "otp", map[string]string{
		"Handle": handle,
		"Code":   code,
	})
}

// UnlockRequest sends an unlock link carrying token
func (m *Mailer) UnlockRequest(recipient, handle, token, maxAge string) error {
	return m.queue("Account Unlock Request", recipient, "unlock", map[string]string{
		"Handle": handle,
		"Link":   m.link("/v1/auth/unlock_account", "token", token),
		"MaxAge": maxAge,
	})
}

// SuspiciousLogin alerts an administrator
func (m *Mailer) SuspiciousLogin(recipient, handle, sourceAddr, agent, kind string) error {
	return m.queue("Suspicious Login Attempt", recipient, "suspicious", map[string]string{
		"Handle":     handle,
		"SourceAddr": sourceAddr,
		"Agent":      agent,
		"Kind":       kind,
	})
}
