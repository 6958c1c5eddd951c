package emailpipe

import (
	"crypto/tls"
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

// Transport delivers a fully rendered email. A missing SMTP
// configuration downgrades to stubTransport so no email failure ever
// propagates back to ingestion.
type Transport interface {
	Send(msg RenderedEmail) error
}

// SMTPConfig mirrors the subset of config.Config the pipeline needs;
// kept separate so this package never imports internal/config.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// smtpTransport sends mail over an implicit-TLS connection to the SMTP
// server; when that TLS dial fails it falls back to smtp.SendMail, which
// upgrades with STARTTLS only if the server offers it.
type smtpTransport struct {
	cfg SMTPConfig
}

// NewTransport returns an SMTP-backed Transport when cfg names a host,
// or a logging stub otherwise.
func NewTransport(cfg SMTPConfig, log *zap.SugaredLogger) Transport {
	if cfg.Host == "" {
		return &stubTransport{log: log}
	}
	return &smtpTransport{cfg: cfg}
}

func (t *smtpTransport) Send(msg RenderedEmail) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	var auth smtp.Auth
	if t.cfg.User != "" {
		auth = smtp.PlainAuth("", t.cfg.User, t.cfg.Pass, t.cfg.Host)
	}

	body := buildMIMEMessage(t.cfg.From, msg)

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: t.cfg.Host})
	if err != nil {
		return smtp.SendMail(addr, auth, t.cfg.From, []string{msg.To}, body)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(t.cfg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return client.Quit()
}

// stubTransport logs and acknowledges acceptance without a network
// call; used when no SMTP host is configured.
type stubTransport struct {
	log *zap.SugaredLogger
}

func (t *stubTransport) Send(msg RenderedEmail) error {
	t.log.Infow("stub email transport accepted message (no SMTP host configured)", "to", msg.To, "subject", msg.Subject)
	return nil
}

func buildMIMEMessage(from string, msg RenderedEmail) []byte {
	boundary := "errwatch-boundary"
	var b []byte
	write := func(s string) { b = append(b, s...) }

	write(fmt.Sprintf("From: %s\r\n", from))
	write(fmt.Sprintf("To: %s\r\n", msg.To))
	write(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	write("MIME-Version: 1.0\r\n")
	write(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary))

	write(fmt.Sprintf("--%s\r\n", boundary))
	write("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	write(msg.Text)
	write("\r\n")

	write(fmt.Sprintf("--%s\r\n", boundary))
	write("Content-Type: text/html; charset=utf-8\r\n\r\n")
	write(msg.HTML)
	write("\r\n")

	write(fmt.Sprintf("--%s--\r\n", boundary))
	return b
}
