// Package email provides email sending functionality
package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"strings"
	"time"
)

// Config holds email configuration
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	From        string
	FromName    string
	UseTLS      bool
	FrontendURL string
}

// Service handles email sending
type Service struct {
	config    *Config
	templates map[string]*template.Template
}

// NewService creates a new email service
func NewService(config *Config) *Service {
	s := &Service{
		config:    config,
		templates: make(map[string]*template.Template),
	}
	s.loadTemplates()
	return s
}

// Email represents an email message
type Email struct {
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

type WelcomeData struct {
	Name         string
	ReferralCode string
	ReferralURL  string
}

type ActivationReceiptData struct {
	Name     string
	PlanName string
	ActiveTo string
}

type WithdrawalUpdateData struct {
	Name   string
	Status string
	Amount string
}

func (s *Service) loadTemplates() {
	s.templates["welcome"] = template.Must(template.New("welcome").Parse(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #10b981; color: white; padding: 24px; border-radius: 8px 8px 0 0; }
        .content { background: #f9fafb; padding: 24px; border-radius: 0 0 8px 8px; }
        .code { font-size: 24px; font-weight: bold; letter-spacing: 2px; background: white; padding: 12px 20px; border-radius: 6px; display: inline-block; margin: 12px 0; }
        .footer { margin-top: 24px; font-size: 12px; color: #6b7280; text-align: center; }
    </style>
</head>
<body>
<div class="container">
    <div class="header">
        <h2>Welcome to Nivelo</h2>
    </div>
    <div class="content">
        <p>Hi {{.Name}},</p>
        <p>Your account is ready. Share your referral code to start building your network:</p>
        <div class="code">{{.ReferralCode}}</div>
        <p>Or send your personal link: <a href="{{.ReferralURL}}">{{.ReferralURL}}</a></p>
    </div>
    <div class="footer">
        Nivelo • Referral Network
    </div>
</div>
</body>
</html>
`))

	s.templates["activation_receipt"] = template.Must(template.New("activation_receipt").Parse(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #10b981; color: white; padding: 24px; border-radius: 8px 8px 0 0; }
        .content { background: #f9fafb; padding: 24px; border-radius: 0 0 8px 8px; }
        .footer { margin-top: 24px; font-size: 12px; color: #6b7280; text-align: center; }
    </style>
</head>
<body>
<div class="container">
    <div class="header">
        <h2>Membership Activated</h2>
    </div>
    <div class="content">
        <p>Hi {{.Name}},</p>
        <p>Your <strong>{{.PlanName}}</strong> membership is active until <strong>{{.ActiveTo}}</strong>.</p>
        <p>Commissions from your network are credited to your wallet automatically.</p>
    </div>
    <div class="footer">
        Nivelo • Referral Network
    </div>
</div>
</body>
</html>
`))

	s.templates["withdrawal_update"] = template.Must(template.New("withdrawal_update").Parse(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #667eea; color: white; padding: 24px; border-radius: 8px 8px 0 0; }
        .content { background: #f9fafb; padding: 24px; border-radius: 0 0 8px 8px; }
        .footer { margin-top: 24px; font-size: 12px; color: #6b7280; text-align: center; }
    </style>
</head>
<body>
<div class="container">
    <div class="header">
        <h2>Withdrawal Update</h2>
    </div>
    <div class="content">
        <p>Hi {{.Name}},</p>
        <p>Your withdrawal of <strong>${{.Amount}}</strong> is now <strong>{{.Status}}</strong>.</p>
    </div>
    <div class="footer">
        Nivelo • Referral Network
    </div>
</div>
</body>
</html>
`))
}

// Send delivers an email over SMTP
func (s *Service) Send(email *Email) error {
	if s.config.Host == "" {
		log.Println("Email not configured, skipping send")
		return nil
	}

	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.config.FromName, s.config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(email.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	if email.HTMLBody != "" {
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.HTMLBody)
	} else {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.Body)
	}

	auth := smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	if s.config.UseTLS {
		tlsConfig := &tls.Config{ServerName: s.config.Host}

		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("TLS dial error: %w", err)
		}
		defer conn.Close()

		client, err := smtp.NewClient(conn, s.config.Host)
		if err != nil {
			return fmt.Errorf("SMTP client error: %w", err)
		}
		defer client.Close()

		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("auth error: %w", err)
		}
		if err = client.Mail(s.config.From); err != nil {
			return fmt.Errorf("mail error: %w", err)
		}
		for _, rcpt := range email.To {
			if err = client.Rcpt(rcpt); err != nil {
				return fmt.Errorf("rcpt error: %w", err)
			}
		}

		w, err := client.Data()
		if err != nil {
			return fmt.Errorf("data error: %w", err)
		}
		if _, err = w.Write(msg.Bytes()); err != nil {
			return fmt.Errorf("write error: %w", err)
		}
		if err = w.Close(); err != nil {
			return fmt.Errorf("close error: %w", err)
		}
		return client.Quit()
	}

	return smtp.SendMail(addr, auth, s.config.From, email.To, msg.Bytes())
}

// SendWithTemplate renders a named template and sends it
func (s *Service) SendWithTemplate(to []string, subject, templateName string, data interface{}) error {
	tmpl, ok := s.templates[templateName]
	if !ok {
		return fmt.Errorf("template %s not found", templateName)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	return s.Send(&Email{
		To:       to,
		Subject:  subject,
		HTMLBody: body.String(),
	})
}

// SendWelcome sends the post-signup email with the member's referral code
func (s *Service) SendWelcome(to, name, referralCode string) {
	err := s.SendWithTemplate([]string{to}, "Welcome to Nivelo", "welcome", WelcomeData{
		Name:         name,
		ReferralCode: referralCode,
		ReferralURL:  fmt.Sprintf("%s/join?ref=%s", s.config.FrontendURL, referralCode),
	})
	if err != nil {
		log.Printf("Failed to send welcome email to %s: %v", to, err)
	}
}

// SendActivationReceipt confirms a membership activation or renewal
func (s *Service) SendActivationReceipt(to, name, planName string, activeTo time.Time) {
	err := s.SendWithTemplate([]string{to}, "Your membership is active", "activation_receipt", ActivationReceiptData{
		Name:     name,
		PlanName: planName,
		ActiveTo: activeTo.Format("January 2, 2006"),
	})
	if err != nil {
		log.Printf("Failed to send activation receipt to %s: %v", to, err)
	}
}

// SendWithdrawalUpdate notifies a member about a withdrawal status change
func (s *Service) SendWithdrawalUpdate(to, name, status, amount string) {
	err := s.SendWithTemplate([]string{to}, "Withdrawal status update", "withdrawal_update", WithdrawalUpdateData{
		Name:   name,
		Status: status,
		Amount: amount,
	})
	if err != nil {
		log.Printf("Failed to send withdrawal update to %s: %v", to, err)
	}
}
