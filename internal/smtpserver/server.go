package smtpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/postbox/internal/auth"
	"github.io/infrasutra/postbox/internal/mailbox"
	"github.io/infrasutra/postbox/internal/metrics"
)

const (
	defaultDomain  = "postbox"
	noSubject      = "(no subject)"
	deliverTimeout = 10 * time.Second
)

type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

// Sender is the part of mailbox.Service the ingress needs.
type Sender interface {
	SendAll(ctx context.Context, from string, draft mailbox.Draft, recipients ...string) ([]mailbox.Sent, error)
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(sender Sender, logger *slog.Logger, addr string, authCfg AuthConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	backend := &backend{
		sender:       sender,
		logger:       logger,
		authEnabled:  authCfg.Enabled,
		authUsername: authCfg.Username,
		authPassword: authCfg.Password,
	}
	server := smtp.NewServer(backend)
	server.Addr = addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	sender       Sender
	logger       *slog.Logger
	authEnabled  bool
	authUsername string
	authPassword string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.authUsername && password == s.backend.authPassword {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	address, err := auth.NormalizeEmail(to)
	if err != nil {
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient address",
		}
	}
	s.to = append(s.to, address)
	return nil
}

// Data delivers the message to every envelope recipient in one atomic send.
// A failure stores nothing, so the client may retry the whole transaction.
func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	parsed, err := parseMessage(data)
	if err != nil {
		s.backend.logger.Warn("parse smtp message", "error", err)
	}
	from := s.from
	if from == "" {
		from = parsed.From
	}
	if from == "" {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 7},
			Message:      "Sender address required",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if _, err := s.backend.sender.SendAll(ctx, from, parsed.draft(), s.to...); err != nil {
		s.backend.logger.Error("deliver smtp message", "from", from, "recipients", s.to, "error", err)
		if mailbox.IsValidation(err) {
			return &smtp.SMTPError{
				Code:         554,
				EnhancedCode: smtp.EnhancedCode{5, 6, 0},
				Message:      err.Error(),
			}
		}
		metrics.SendFailures.Inc()
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary delivery failure, nothing was delivered",
		}
	}
	metrics.MessagesSent.WithLabelValues("smtp").Add(float64(len(s.to)))
	s.backend.logger.Info("smtp message accepted", "from", from, "recipients", len(s.to), "attachments_dropped", parsed.Attachments)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

type parsedMessage struct {
	From        string
	Subject     string
	Text        string
	HTML        string
	Attachments int
}

// draft prefers the HTML body; content is stored as markup when there is any.
func (p parsedMessage) draft() mailbox.Draft {
	content := p.HTML
	if strings.TrimSpace(content) == "" {
		content = p.Text
	}
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		subject = noSubject
	}
	return mailbox.Draft{Subject: subject, Content: content}
}

func parseMessage(raw []byte) (parsedMessage, error) {
	var message parsedMessage

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return message, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		message.Subject = subject
	}
	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
		message.From = normalizeEmail(fromList[0].Address)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return message, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				message.Text = appendBody(message.Text, string(body))
			case strings.HasPrefix(mediaType, "text/html"):
				message.HTML = appendBody(message.HTML, string(body))
			}
		case *mail.AttachmentHeader:
			message.Attachments++
		}
	}
	return message, nil
}

func appendBody(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
