package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	SenderName string
	Timeout    time.Duration
	// Insecure skips TLS entirely; only for local catch-all servers.
	Insecure bool
}

// SMTPConfigFromEnv reads SMTP_* variables.
func SMTPConfigFromEnv() SMTPConfig {
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if port == 0 {
		port = 587
	}
	timeout, err := time.ParseDuration(os.Getenv("SMTP_TIMEOUT"))
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Second
	}
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = os.Getenv("SMTP_USERNAME")
	}
	return SMTPConfig{
		Host:       os.Getenv("SMTP_HOST"),
		Port:       port,
		Username:   os.Getenv("SMTP_USERNAME"),
		Password:   os.Getenv("SMTP_PASSWORD"),
		From:       from,
		SenderName: os.Getenv("SMTP_SENDER_NAME"),
		Timeout:    timeout,
		Insecure:   os.Getenv("SMTP_INSECURE") == "1",
	}
}

// SMTPSender sends mail through one SMTP connection per message:
// implicit TLS on port 465, STARTTLS otherwise.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *zap.SugaredLogger
}

func NewSMTP(cfg SMTPConfig, logger *zap.SugaredLogger) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("%w: header contains a line break", ErrSend)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	address := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dial(ctx, address)
	if err != nil {
		s.logger.Errorw("failed to connect to SMTP server", "address", address, "err", err)
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	defer conn.Close()

	// net/smtp has no context support; the deadline bounds every exchange.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := s.deliver(conn, to, s.buildMessage(to, subject, htmlBody)); err != nil {
		s.logger.Errorw("SMTP delivery failed", "to", to, "err", err)
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}

func (s *SMTPSender) dial(ctx context.Context, address string) (net.Conn, error) {
	d := &net.Dialer{}
	if s.cfg.Port == 465 && !s.cfg.Insecure {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: s.cfg.Host}}
		return td.DialContext(ctx, "tcp", address)
	}
	return d.DialContext(ctx, "tcp", address)
}

func (s *SMTPSender) deliver(conn net.Conn, to string, msg []byte) error {
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	_, implicitTLS := conn.(*tls.Conn)
	if !implicitTLS && !s.cfg.Insecure {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) buildMessage(to, subject, htmlBody string) []byte {
	from := s.cfg.From
	if s.cfg.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.cfg.SenderName), s.cfg.From)
	}
	domain := "localhost"
	if at := strings.LastIndex(s.cfg.From, "@"); at >= 0 {
		domain = s.cfg.From[at+1:]
	}
	return fmt.Appendf(nil,
		"Message-ID: <%s@%s>\r\n"+
			"Date: %s\r\n"+
			"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=\"utf-8\"\r\n"+
			"\r\n"+
			"%s",
		utilities.NewKSUID(), domain,
		time.Now().Format(time.RFC1123Z),
		from, to,
		mime.QEncoding.Encode("utf-8", subject),
		strings.ReplaceAll(strings.ReplaceAll(htmlBody, "\r\n", "\n"), "\n", "\r\n"),
	)
}
