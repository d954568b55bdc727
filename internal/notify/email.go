// Package notify emails the contacts configured on a connection when the
// engine gives up on a record.
package notify

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/hqmotech/forwarder/internal/config"
	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/pkg/logger"
)

// Notifier reports terminal delivery failures to operators.
type Notifier interface {
	RecordCancelled(record *model.RepeatRecord, conn *model.ConnectionSettings)
}

type emailNotifier struct {
	dialer *gomail.Dialer
	from   string
	logger *logger.Logger
}

func NewEmailNotifier(cfg config.SMTPConfig, log *logger.Logger) Notifier {
	return &emailNotifier{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: log,
	}
}

// RecordCancelled sends a cancellation notice to the connection's notify
// addresses. Notification failures are logged, never propagated: a broken
// SMTP relay must not affect delivery bookkeeping.
func (n *emailNotifier) RecordCancelled(record *model.RepeatRecord, conn *model.ConnectionSettings) {
	if len(conn.NotifyAddresses) == 0 {
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", conn.NotifyAddresses...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] data forwarding to %s cancelled", record.Domain, conn.Name))
	m.SetBody("text/plain", fmt.Sprintf(
		"Forwarding of document %s to %s was cancelled after %d tries.\n\nReason: %s\n",
		record.PayloadEntityID, conn.URL, record.OverallTries, record.FailureReason,
	))

	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Error(err, "failed to send cancellation notice",
			"record_id", record.ID.String(), "domain", record.Domain)
	}
}

// NopNotifier discards notifications; used when SMTP is not configured.
type NopNotifier struct{}

func (NopNotifier) RecordCancelled(*model.RepeatRecord, *model.ConnectionSettings) {}
