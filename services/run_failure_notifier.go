package services

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"strings"

	"vodcms-collect-api/config"
)

// MailRunNotifier emails operators when the engine fails runs on its own.
type MailRunNotifier struct {
	recipients []string
	send       func(to []string, subject, html string) error
}

// NewMailRunNotifier returns nil when SMTP or recipients are not configured.
func NewMailRunNotifier() *MailRunNotifier {
	to := config.AlertRecipients()
	if len(to) == 0 || !config.MailerConfigured() {
		return nil
	}
	return &MailRunNotifier{recipients: to, send: config.SendMail}
}

func (n *MailRunNotifier) NotifyRunsFailed(_ context.Context, runIDs []uint, reason string) {
	if n == nil || len(runIDs) == 0 {
		return
	}
	subject, body := renderRunFailureMail(runIDs, reason)
	to := append([]string(nil), n.recipients...)
	go func() {
		if err := n.send(to, subject, body); err != nil {
			log.Printf("collect: alert mail for runs %v failed: %v", runIDs, err)
		}
	}()
}

func renderRunFailureMail(runIDs []uint, reason string) (string, string) {
	ids := make([]string, len(runIDs))
	for i, id := range runIDs {
		ids[i] = fmt.Sprintf("#%d", id)
	}
	subject := fmt.Sprintf("[collect] %d run(s) failed", len(runIDs))

	msg := template.HTMLEscapeString(strings.TrimSpace(reason))
	msg = strings.ReplaceAll(msg, "\n", "<br />")
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family:'Segoe UI',Tahoma,Arial,sans-serif;color:#111827;">
<p>Runs: %s</p>
<p style="word-break:break-word;">%s</p>
</body>
</html>`, template.HTMLEscapeString(subject), strings.Join(ids, ", "), msg)
	return subject, body
}
