package config

import (
	"crypto/tls"
	"fmt"
	"strings"

	mail "github.com/go-mail/mail/v2"
)

// MailerConfig holds SMTP settings. Host and From must both be set for mail to go out.
type MailerConfig struct {
	Host          string
	Port          int
	User          string
	Pass          string
	From          string // e.g. "Collect Monitor <no-reply@example.org>"
	SkipTLSVerify bool
}

var mailer = LoadMailerConfig()

// LoadMailerConfig reads SMTP_* variables.
func LoadMailerConfig() MailerConfig {
	return MailerConfig{
		Host:          GetEnv("SMTP_HOST", ""),
		Port:          GetEnvAsInt("SMTP_PORT", 587),
		User:          GetEnv("SMTP_USER", ""),
		Pass:          GetEnv("SMTP_PASS", ""),
		From:          GetEnv("SMTP_FROM", ""),
		SkipTLSVerify: GetEnv("SMTP_SKIP_TLS_VERIFY", "") == "1",
	}
}

// ReloadMailerConfig re-reads SMTP settings after .env has been loaded.
func ReloadMailerConfig() {
	mailer = LoadMailerConfig()
}

// MailerConfigured reports whether SendMail can deliver anything.
func MailerConfigured() bool {
	return mailer.Host != "" && mailer.From != ""
}

// AlertRecipients returns COLLECT_ALERT_EMAILS split on commas.
func AlertRecipients() []string {
	var out []string
	for _, addr := range strings.Split(GetEnv("COLLECT_ALERT_EMAILS", ""), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func SendMail(to []string, subject, html string) error {
	if len(to) == 0 {
		return nil
	}
	if !MailerConfigured() {
		return fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}

	m := mail.NewMessage()
	m.SetHeader("From", mailer.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	d := mail.NewDialer(mailer.Host, mailer.Port, mailer.User, mailer.Pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         mailer.Host,
		InsecureSkipVerify: mailer.SkipTLSVerify,
	}

	return d.DialAndSend(m)
}
