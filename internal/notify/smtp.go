package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// SMTPOptions parameterise the email notifier.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier delivers notifications over implicit-TLS SMTP.
type SMTPNotifier struct {
	opts   SMTPOptions
	logger zerolog.Logger
}

// NewSMTPNotifier constructs the email notifier.
func NewSMTPNotifier(opts SMTPOptions, logger zerolog.Logger) *SMTPNotifier {
	if opts.From == "" {
		opts.From = opts.Username
	}
	return &SMTPNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "smtp_notifier").Logger(),
	}
}

// Notify sends the message to its recipient.
func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	if n.opts.Host == "" || n.opts.Port == 0 || n.opts.Username == "" || n.opts.Password == "" {
		return errors.New("smtp credentials are not configured")
	}
	if msg.To == "" {
		return errors.New("recipient address is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)
	auth := smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)

	headers := []string{
		fmt.Sprintf("From: %s", n.opts.From),
		fmt.Sprintf("To: %s", msg.To),
		fmt.Sprintf("Subject: %s", msg.Subject),
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
	}
	payload := strings.Join(headers, "\r\n") + msg.Body

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: n.opts.Host})
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, n.opts.Host)
	if err != nil {
		return fmt.Errorf("open smtp session: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(n.opts.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := writer.Write([]byte(payload)); err != nil {
		return fmt.Errorf("write smtp payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close smtp payload: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}

	n.logger.Info().Str("recipient", msg.To).Str("subject", msg.Subject).Msg("notification sent")
	return nil
}

var _ Notifier = (*SMTPNotifier)(nil)
