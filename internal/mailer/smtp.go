package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/config"
)

const (
	implicitTLSPort = "465"
	dialTimeout     = 10 * time.Second
)

type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     from,
	}
}

func (m *SMTPMailer) SendVerificationCode(ctx context.Context, to, name, code string) error {
	return m.deliver(ctx, KindVerification, to, name, code)
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, to, name string) error {
	return m.deliver(ctx, KindWelcome, to, name, "")
}

func (m *SMTPMailer) SendTwoFactorCode(ctx context.Context, to, name, code string) error {
	return m.deliver(ctx, KindTwoFactorCode, to, name, code)
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, name, code string) error {
	return m.deliver(ctx, KindPasswordReset, to, name, code)
}

func (m *SMTPMailer) deliver(ctx context.Context, kind Kind, to, name, code string) error {
	msg, err := compose(kind, name, code)
	if err != nil {
		return err
	}
	body, err := render(msg)
	if err != nil {
		return fmt.Errorf("render %s email: %w", kind, err)
	}
	if err := m.send(ctx, to, msg.Subject, body); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	msg := []byte(
		fmt.Sprintf("From: \"NYSC CDS Portal\" <%s>\r\n", m.from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body,
	)

	client, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.username != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(m.from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

// dial uses implicit TLS on 465 and STARTTLS elsewhere when the server
// offers it.
func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.host, m.port)
	tlsConfig := &tls.Config{ServerName: m.host}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if m.port == implicitTLSPort {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if m.port != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, err
			}
		} else if m.username != "" && !isLocalhost(m.host) {
			_ = client.Close()
			return nil, fmt.Errorf("smtp server %s does not offer STARTTLS", m.host)
		}
	}

	return client, nil
}

func isLocalhost(host string) bool {
	return host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1"
}
