package email

import (
	"context"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

// SMTPNotifier mails the operator when an event is dead-lettered, pointing at
// the queue entry and run ledger row to inspect.
type SMTPNotifier struct {
	host   string
	port   int
	from   string
	to     string
	logger *zap.Logger
}

func NewSMTPNotifier(host string, port int, from, to string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, to: to, logger: logger}
}

func (n *SMTPNotifier) NotifyDeadLetter(_ context.Context, sourceKey, stage, reason string) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	subject := fmt.Sprintf("framelift - event dead-lettered [%s]", stage)
	body := fmt.Sprintf(
		"An event exhausted its processing attempts and was parked in the dead-letter queue.\r\n\r\n"+
			"Stage: %s\r\n"+
			"Source: %s\r\n"+
			"Reason: %s\r\n\r\n"+
			"Inspect the stage DLQ and the pipeline_runs row for this source to reprocess or discard.\r\n\r\n"+
			"-- framelift",
		stage, sourceKey, reason,
	)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.from, n.to, subject, body,
	)

	err := smtp.SendMail(addr, nil, n.from, []string{n.to}, []byte(msg))
	if err != nil {
		n.logger.Error("failed to send dead-letter notification email",
			zap.String("source_key", sourceKey),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("dead-letter notification email sent",
		zap.String("source_key", sourceKey),
		zap.String("stage", stage),
	)
	return nil
}
